package model

import (
	"errors"
)

var (
	ErrInvalidProfile = errors.New("invalid profile")
	ErrDetectionParse = errors.New("detection report not parseable")
	ErrNoTasks        = errors.New("no tasks to run")
)
