package config

const (
	// TopicConvert carries object-created events for uploaded conversion inputs.
	TopicConvert = "jobs.convert"

	// TopicEmail carries {job_id} notifications for email jobs.
	TopicEmail = "jobs.email"
)

// Topics lists every topic the workers consume.
var Topics = []string{TopicConvert, TopicEmail}
