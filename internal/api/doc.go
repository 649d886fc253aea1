// Package api exposes the control-plane surface: work submission and status
// reads, and proposal submission and review. Services return transport-ready
// DTOs; collaborators mount them behind whatever transport they choose.
package api
