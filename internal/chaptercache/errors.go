package chaptercache

import "fmt"

// ValidationError reports that caching is not permitted for a chapter/actor pair.
//
// Message is safe to show to the requesting user.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// SourceFetchError reports that one page could not be fetched. Page is one-based.
type SourceFetchError struct {
	Page int
	Err  error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

func (e *SourceFetchError) Unwrap() error {
	return e.Err
}

// PublishStage identifies which step of article building failed.
type PublishStage string

const (
	PublishStageBegin    PublishStage = "begin"
	PublishStageAppend   PublishStage = "append"
	PublishStageFinalize PublishStage = "finalize"
)

// PublishError reports that the article could not be built or published.
type PublishError struct {
	Stage PublishStage
	// Page is the one-based page being appended for PublishStageAppend.
	Page int
	Err  error
}

func (e *PublishError) Error() string {
	if e.Stage == PublishStageAppend {
		return fmt.Sprintf("publish %s page %d: %v", e.Stage, e.Page, e.Err)
	}

	return fmt.Sprintf("publish %s: %v", e.Stage, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
