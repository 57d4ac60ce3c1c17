package chapter

import (
	"regexp"
)

var (
	chapterRoutes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^chapter=(\S+):prev=(\S+):next=(\S+):offset=(\S+?):(\S+)$`),
		regexp.MustCompile(`(?i)^chapter=(\S+):read=(\S+):next=(\S+):offset=(\S+?):(\S+)$`),
		regexp.MustCompile(`(?i)^chapter=(\S+):read=(\S+):copy=(\S+):offset=(\S+?):(\S+)$`),
	}
	listRoute = regexp.MustCompile(`(?i)^list=(\S+?):chapter=(\S+):read=(\S+):copy=(\S+):offset=([0-9]+)`)
	listLabel = regexp.MustCompile(`[A-Za-z]+`)
)

// request is one parsed chapter callback.
type request struct {
	// list scopes follow-up buttons to a reading list instead of the browse history.
	list      string
	chapterID string
	// read is echoed into follow-up callbacks unchanged.
	read    string
	copy    bool
	offset  string
	history string
}

func parseRequest(data string) (request, bool) {
	if match := listRoute.FindStringSubmatch(data); match != nil {
		return request{
			list:      match[1],
			chapterID: match[2],
			read:      match[3],
			copy:      match[4] == "true",
			offset:    match[5],
		}, true
	}

	for _, route := range chapterRoutes {
		match := route.FindStringSubmatch(data)
		if match == nil {
			continue
		}

		return request{
			chapterID: match[1],
			read:      match[2],
			copy:      match[3] == "true",
			offset:    match[4],
			history:   match[5],
		}, true
	}

	return request{}, false
}

func (r request) markedRead() bool {
	return r.read == "true"
}

// scoped appends the browse history, or prefixes the list scope, to data.
func (r request) scoped(data string) string {
	if r.list != "" {
		return "list=" + r.list + ":" + data
	}

	return data + ":" + r.history
}

func (r request) chapterListData(language string, mangaID string) string {
	return r.scoped("chapterlist=" + language + ":id=" + mangaID + ":offset=" + r.offset)
}

func (r request) mangaData(mangaID string) string {
	return r.scoped("manga=" + mangaID)
}

func (r request) copyData() string {
	return r.scoped("chapter=" + r.chapterID + ":read=" + r.read + ":copy=true:offset=" + r.offset)
}

func (r request) loadData() string {
	return r.scoped("chapter=" + r.chapterID + ":read=false:copy=false:offset=" + r.offset)
}

func (r request) listName() string {
	if r.list == "" {
		return ""
	}
	if name := listLabel.FindString(r.list); name != "" {
		return name
	}

	return r.list
}
