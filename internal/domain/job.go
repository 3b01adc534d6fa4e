package domain

// JobKey identifies a job. The pair is unique within the store.
type JobKey struct {
	Name  string
	Group string
}

// String renders the key as the document id, "group.name".
func (k JobKey) String() string {
	return k.Group + "." + k.Name
}

// Job is inert data: the class reference is resolved by a job locator
// outside the store, and the data map is handed to the job on every run.
type Job struct {
	Key      JobKey
	JobClass string
	Data     map[string]any
}
