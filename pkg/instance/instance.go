// Package instance names the running API process, so hub logs from several
// instances sharing a backplane can be told apart.
package instance

import "github.com/angelmondragon/carline-backend/pkg/env"

var idEnvVars = []string{"CARLINE_INSTANCE_ID", "DYNO", "HOSTNAME"}

// GetID returns the process instance identifier or "local".
func GetID() string {
	if id, ok := env.First(idEnvVars...); ok {
		return id
	}
	return "local"
}
