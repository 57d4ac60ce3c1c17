package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePrefix = "mangabot/"

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "arch-check: passed\n")
		return
	}

	_, _ = fmt.Fprintf(os.Stdout, "arch-check: architecture violations:\n")
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list -json -test ./...: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(stdout.Bytes()))
	result := make([]listedPackage, 0, 64)
	for {
		var pkg listedPackage
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath == "" {
			continue
		}
		result = append(result, pkg)
	}

	return result, nil
}

func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})

	for _, pkg := range packages {
		imports := append([]string{}, pkg.Imports...)
		imports = append(imports, pkg.TestImports...)
		imports = append(imports, pkg.XTestImports...)

		for _, imported := range imports {
			reason := violationReason(pkg.ImportPath, imported)
			if reason == "" {
				continue
			}
			entry := fmt.Sprintf("%s -> %s (%s)", pkg.ImportPath, imported, reason)
			found[entry] = struct{}{}
		}
	}

	violations := make([]string, 0, len(found))
	for violation := range found {
		violations = append(violations, violation)
	}
	sort.Strings(violations)

	return violations
}

// importRule forbids packages under from importing packages under any of denied.
type importRule struct {
	from   string
	denied []string
	reason string
}

var importRules = []importRule{
	{
		from:   "pkg/chat",
		denied: []string{"internal/", "modules/"},
		reason: "pkg/chat must not import internal/* or modules/*",
	},
	{
		from:   "internal/kernel",
		denied: []string{"internal/driver", "modules/"},
		reason: "internal/kernel must not import drivers or modules",
	},
	{
		from: "internal/chaptercache",
		denied: []string{
			"internal/mangadex", "internal/telegraph", "internal/store",
			"internal/driver", "internal/kernel", "modules/",
		},
		reason: "internal/chaptercache must only depend on its own interfaces",
	},
	{
		from:   "internal/mangadex",
		denied: []string{"pkg/chat", "modules/"},
		reason: "source adapters must not know about chat transport",
	},
	{
		from:   "internal/telegraph",
		denied: []string{"pkg/chat", "modules/"},
		reason: "publisher adapters must not know about chat transport",
	},
	{
		from:   "internal/store",
		denied: []string{"pkg/chat", "modules/"},
		reason: "store adapters must not know about chat transport",
	},
	{
		from:   "modules/",
		denied: []string{"internal/driver", "internal/kernel", "internal/mangadex", "internal/telegraph"},
		reason: "modules/* reach adapters only through chaptercache interfaces",
	},
}

func violationReason(importer, imported string) string {
	if !strings.HasPrefix(importer, modulePrefix) || !strings.HasPrefix(imported, modulePrefix) {
		return ""
	}
	importer = strings.TrimPrefix(importer, modulePrefix)
	imported = strings.TrimPrefix(imported, modulePrefix)

	for _, rule := range importRules {
		if !strings.HasPrefix(importer, rule.from) {
			continue
		}
		for _, denied := range rule.denied {
			if strings.HasPrefix(imported, denied) {
				return rule.reason
			}
		}
	}

	return ""
}
