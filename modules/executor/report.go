package executor

import (
	"encoding/json"
	"os"

	"github.com/eventstack/maestro/pkg/fault"
)

// minimal view of the cucumber report, enough to count scenario outcomes
type cucumberFeature struct {
	Elements []cucumberElement `json:"elements"`
}

type cucumberElement struct {
	Type  string         `json:"type"`
	Steps []cucumberStep `json:"steps"`
}

type cucumberStep struct {
	Result struct {
		Status string `json:"status"`
	} `json:"result"`
}

func parseCucumberReport(path string) (scenarios, passed, failed int, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, 0, fault.Wrap(fault.KindExecutor, err, "reading cucumber report")
	}

	var features []cucumberFeature
	if err := json.Unmarshal(raw, &features); err != nil {
		return 0, 0, 0, fault.Wrap(fault.KindExecutor, err, "parsing cucumber report")
	}

	for _, f := range features {
		for _, el := range f.Elements {
			if el.Type != "scenario" {
				continue
			}
			scenarios++
			ok := true
			for _, s := range el.Steps {
				if s.Result.Status != "passed" {
					ok = false
					break
				}
			}
			if ok {
				passed++
			} else {
				failed++
			}
		}
	}
	return scenarios, passed, failed, nil
}
