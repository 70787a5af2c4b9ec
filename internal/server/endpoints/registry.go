// Package endpoints defines the qforge HTTP routes and their matching CLI commands.
package endpoints

import "github.com/jackzampolin/qforge/internal/api"

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Run endpoints
		&CreateRunEndpoint{},
		&UploadRunEndpoint{},
		&ListRunsEndpoint{},
		&GetRunEndpoint{},
		&CancelRunEndpoint{},
		&RunQuestionsEndpoint{},

		// Question bank
		&QueryQuestionsEndpoint{},
		&GetQuestionEndpoint{},
	}
}
