package generator

import (
	"slices"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

// Dataset carries the job fields shared by every role.
type Dataset struct {
	JobName            string         `json:"job_name"`
	DatasetName        string         `json:"dataset_name"`
	TrainingRate       float64        `json:"training_rate"`
	FusionRate         float64        `json:"fusion_rate"`
	ClassAttribute     string         `json:"class_attribute"`
	ClassAttributeType core.ValueType `json:"class_attribute_type"`
	TrueClassValue     any            `json:"true_class_value"`
	IncludeAttributes  []string       `json:"include_attributes"`
	ExcludeAttributes  []string       `json:"exclude_attributes"`
	AttributesRate     float64        `json:"attributes_rate"`
	RandomSeed         int64          `json:"random_seed"`
	IncludeHeader      bool           `json:"include_header"`
}

type LearnerTask struct {
	TaskNumber int     `json:"task_number"`
	SampleRate float64 `json:"sample_rate"`
	Duration   int     `json:"duration"`
	Dataset
	LearnParameters map[string]any `json:"learn_parameters"`
}

type FilterTask struct {
	LearnerOutputsNumber int     `json:"learner_outputs_number"`
	Threshold            float64 `json:"threshold"`
	Dataset
	PredictParameters map[string]any `json:"predict_parameters"`
}

type FuserTask struct {
	Dataset
	PredictParameters map[string]any `json:"predict_parameters"`
}

func datasetOf(spec *core.JobSpec) Dataset {
	return Dataset{
		JobName:            spec.Name,
		DatasetName:        spec.DatasetName,
		TrainingRate:       spec.TrainingRate,
		FusionRate:         spec.FusionRate,
		ClassAttribute:     spec.ClassAttribute,
		ClassAttributeType: spec.ClassAttributeType,
		TrueClassValue:     spec.TrueClassValue,
		IncludeAttributes:  cloneStrings(spec.IncludeAttributes),
		ExcludeAttributes:  cloneStrings(spec.ExcludeAttributes),
		AttributesRate:     spec.AttributesRate,
		RandomSeed:         spec.RandomSeed,
		IncludeHeader:      spec.IncludeHeader,
	}
}

// cloneStrings never returns nil so that the lists encode as [] on the wire.
func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

// clone copies the shared slices so that emitted tasks never alias each other.
func (d Dataset) clone() Dataset {
	d.IncludeAttributes = cloneStrings(d.IncludeAttributes)
	d.ExcludeAttributes = cloneStrings(d.ExcludeAttributes)
	return d
}
