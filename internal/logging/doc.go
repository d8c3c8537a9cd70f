// Package logging builds the service's structured slog logger from configuration
// and defines the FAULT level used for programmer-misuse conditions.
package logging
