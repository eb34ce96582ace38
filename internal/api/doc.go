// Package api exposes the REST interface for submitting research runs,
// polling their progress, and retrieving archived strategic reports. It also
// hosts the token issuance endpoint and the liveness probe.
package api
