package backtest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"fxlayer/internal/fx"

	"gopkg.in/yaml.v3"
)

type summaryDoc struct {
	RunID       string             `yaml:"run_id"`
	From        string             `yaml:"from"`
	To          string             `yaml:"to"`
	Canceled    bool               `yaml:"canceled,omitempty"`
	Aborted     bool               `yaml:"aborted,omitempty"`
	Units       int                `yaml:"units"`
	FailedUnits int                `yaml:"failed_units"`
	ErrorDays   int                `yaml:"error_days"`
	Skips       map[SkipReason]int `yaml:"skips,omitempty"`
	Summary     Summary            `yaml:"summary"`
	Errors      []string           `yaml:"errors,omitempty"`
}

// WriteSummaryYAML 将回测汇总写为 YAML 文件。
func WriteSummaryYAML(path string, report *Report) error {
	if report == nil {
		return fmt.Errorf("report 不能为空")
	}
	doc := summaryDoc{
		RunID:       report.RunID,
		From:        fx.DayKey(report.From),
		To:          fx.DayKey(report.To),
		Canceled:    report.Canceled,
		Aborted:     report.Aborted,
		Units:       report.Progress.UnitsDone,
		FailedUnits: report.Progress.FailedUnits,
		ErrorDays:   report.Progress.ErrorDays,
		Summary:     report.Summary,
	}
	if len(report.Skips) > 0 {
		doc.Skips = make(map[SkipReason]int)
		for _, s := range report.Skips {
			doc.Skips[s.Reason]++
		}
	}
	for _, ue := range report.UnitErrors {
		doc.Errors = append(doc.Errors, fmt.Sprintf("%s %s: %s", fx.DayKey(ue.Day), ue.Pair, ue.Error))
	}
	sort.Strings(doc.Errors)
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o644)
}
