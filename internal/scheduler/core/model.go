package core

import "fmt"

type ValueType string

const (
	ValueTypeInteger ValueType = "integer"
	ValueTypeReal    ValueType = "real"
	ValueTypeText    ValueType = "text"
)

func (t ValueType) Valid() bool {
	switch t {
	case ValueTypeInteger, ValueTypeReal, ValueTypeText:
		return true
	}
	return false
}

// Role identifies one of the three worker pools a job is split across.
type Role string

const (
	RoleLearner Role = "learner"
	RoleFilter  Role = "filter"
	RoleFuser   Role = "fuser"
)

// Roles returns every role in dispatch order.
func Roles() []Role {
	return []Role{RoleLearner, RoleFilter, RoleFuser}
}

func ParseRole(s string) (Role, error) {
	for _, r := range Roles() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role: %q", s)
}

// QueueName returns the task queue of the given role for a job. Workers rely
// on this exact format.
func QueueName(jobName string, role Role) string {
	return fmt.Sprintf("%s@%s.tasks", jobName, role)
}

// JobSpec is everything needed to expand one experiment into learner, filter
// and fuser tasks.
type JobSpec struct {
	Name               string    `json:"name" validate:"queuename"`
	DatasetName        string    `json:"dataset_name" validate:"required"`
	TrainingRate       float64   `json:"training_rate" validate:"gte=0,lte=1"`
	FusionRate         float64   `json:"fusion_rate" validate:"gte=0,lte=1"`
	SampleRate         float64   `json:"sample_rate" validate:"gte=0,lte=1"`
	ClassAttribute     string    `json:"class_attribute" validate:"required"`
	ClassAttributeType ValueType `json:"class_attribute_type" validate:"valuetype"`
	TrueClassValue     any       `json:"true_class_value"`
	IncludeAttributes  []string  `json:"include_attributes"`
	ExcludeAttributes  []string  `json:"exclude_attributes"`
	AttributesRate     float64   `json:"attributes_rate" validate:"gte=0,lte=1"`
	RandomSeed         int64     `json:"random_seed"`
	IncludeHeader      bool      `json:"include_header"`

	// Learner only, in seconds.
	Duration int `json:"duration" validate:"gte=0"`
	// Filter only.
	Threshold float64 `json:"threshold"`

	LearnersNumber    int                    `json:"learners_number" validate:"gte=0"`
	LearnParameters   []LearnParameterSpec   `json:"learn_parameters" validate:"dive"`
	PredictParameters []PredictParameterSpec `json:"predict_parameters" validate:"dive"`
}

// LearnParameterSpec describes the admissible values of a learner parameter,
// either as an explicit list or as a numeric range. Exactly one of Values and
// Range is set.
type LearnParameterSpec struct {
	Name   string     `json:"name" validate:"required"`
	Type   ValueType  `json:"type" validate:"valuetype"`
	Values []any      `json:"values,omitempty"`
	Range  *RangeSpec `json:"range,omitempty"`
}

// RangeSpec bounds are JSON numbers or numeric strings. Stop is exclusive and
// a missing Step falls back to the type default.
type RangeSpec struct {
	Start any `json:"start"`
	Stop  any `json:"stop"`
	Step  any `json:"step,omitempty"`
}

type PredictParameterSpec struct {
	Name  string    `json:"name" validate:"required"`
	Type  ValueType `json:"type" validate:"valuetype"`
	Value any       `json:"value"`
}
