// Package migrate upgrades job content written in the legacy shape to the
// current one. It is a one-off tool for stored jobs and is never called while
// evaluating.
//
// Legacy static variables carry a plain "value" and no "init_fn"; they become
// static variables initialised from that literal, with the value kept as the
// cached resolution. Legacy jobs hold a single condition and msgs pair, which
// becomes a one-element execution list.
package migrate

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/resolver/pkg/schema"
)

// LegacyJob is a job stored before executions were introduced.
type LegacyJob struct {
	Condition          string `json:"condition" yaml:"condition"`
	TerminateCondition string `json:"terminate_condition,omitempty" yaml:"terminate_condition,omitempty"`
	Msgs               string `json:"msgs" yaml:"msgs"`
	Vars               string `json:"vars" yaml:"vars"`
}

// Job is the current job content: condition/msgs pairs tried in order.
type Job struct {
	TerminateCondition string             `json:"terminate_condition,omitempty"`
	Executions         []schema.Execution `json:"executions"`
	Vars               string             `json:"vars"`
}

// Definitions expands the job into one definition per execution, the unit the
// resolver validates and evaluates.
func (j *Job) Definitions() []schema.JobDefinition {
	defs := make([]schema.JobDefinition, 0, len(j.Executions))
	for _, ex := range j.Executions {
		defs = append(defs, schema.JobDefinition{
			Condition:          ex.Condition,
			TerminateCondition: j.TerminateCondition,
			Vars:               j.Vars,
			Msgs:               ex.Msgs,
		})
	}
	return defs
}

// Report lists what a conversion touched.
type Report struct {
	Converted []string `json:"converted"` // static variables given an init_fn
	Unchanged int      `json:"unchanged"`
}

// Variables upgrades a serialized variable list. Lists that are already in
// the current shape pass through unchanged, so the conversion is idempotent.
func Variables(text string) (string, *Report, error) {
	vars, err := schema.ParseVariables(text)
	if err != nil {
		return "", nil, err
	}

	report := &Report{Converted: []string{}}
	for i := range vars {
		v := &vars[i]
		if v.Static == nil || !v.Static.InitFn.IsZero() {
			report.Unchanged++
			if err := v.Validate(); err != nil {
				return "", nil, err
			}
			continue
		}
		if v.Static.Value == nil {
			return "", nil, schema.NewError(schema.ErrCodeInvalidVariables,
				"legacy static variable has no value").WithVariable(v.Static.Name)
		}
		v.Static.InitFn = schema.Lit(*v.Static.Value)
		v.Static.Reinitialize = false
		if err := v.Validate(); err != nil {
			return "", nil, err
		}
		report.Converted = append(report.Converted, v.Static.Name)
	}

	out, err := schema.MarshalVariables(vars)
	if err != nil {
		return "", nil, err
	}
	return out, report, nil
}

// ConvertJob upgrades a legacy job.
func ConvertJob(old LegacyJob) (*Job, *Report, error) {
	vars, report, err := Variables(old.Vars)
	if err != nil {
		return nil, nil, err
	}
	return &Job{
		TerminateCondition: old.TerminateCondition,
		Executions:         []schema.Execution{{Condition: old.Condition, Msgs: old.Msgs}},
		Vars:               vars,
	}, report, nil
}

// ParseLegacyJob decodes a legacy job document.
func ParseLegacyJob(data []byte) (LegacyJob, error) {
	var old LegacyJob
	if err := json.Unmarshal(data, &old); err != nil {
		return LegacyJob{}, fmt.Errorf("decode legacy job: %w", err)
	}
	if old.Condition == "" {
		return LegacyJob{}, schema.NewError(schema.ErrCodeInvalidCondition, "legacy job has no condition")
	}
	return old, nil
}
