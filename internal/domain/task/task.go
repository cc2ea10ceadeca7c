package task

import "encoding/json"

// Task is a unit of work carried on a Redis stream named after its type.
type Task interface {
	TaskType() string
	TaskValue() ([]byte, error)
}

// TaskTypes lists every stream the refresh workers consume.
var TaskTypes = []string{RefreshTaskType, RefreshRetryTaskType}

// DefaultTaskValue provides a common implementation for TaskValue
func DefaultTaskValue(task any) ([]byte, error) {
	return json.Marshal(task)
}

func UnmarshalTask[T Task](task []byte) (T, error) {
	var t T
	err := json.Unmarshal(task, &t)
	return t, err
}
