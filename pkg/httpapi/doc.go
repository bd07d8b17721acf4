// Package httpapi exposes the notification query API over HTTP.
//
// Routes cover listing and mutating a user's notifications, provider
// delivery callbacks, event announcement for trusted services, channel
// preferences and the metrics summary. Authentication happens
// upstream: the platform gateway injects X-User-ID and X-Tenant-ID
// headers and the API scopes every operation to them.
package httpapi
