// Package services talks to the remote media server the sync engine mirrors.
//
// # MediaServer Interface
//
// [MediaServer] is the only view the sync engine has of the remote library: list library
// sections, enumerate a section (optionally bounded by an updatedAt cursor), fetch one full
// metadata document, fetch a container's children and look up collection membership.
//
// # Plex Implementation
//
// [PlexClient] speaks the Plex-style JSON API. Every request carries the X-Plex-Token header and
// asks for JSON; responses are read with gjson rather than decoded into structs, so unknown
// fields survive untouched into the stored document.
//
// Listings are paged with X-Plex-Container-Start/Size. [PlexClient.Enumerate] fetches the first
// page eagerly to learn the declared total and returns a [models.ItemIterator] that pulls the
// remaining pages on demand.
//
// # Error Handling
//
// HTTP status codes are mapped onto sentinels from the shared package:
//   - 401, 403 : [shared.ErrUnauthorized] (pool-fatal)
//   - 429, 503 : [shared.ErrServerOverloaded] (pool-fatal)
//   - 404 : [shared.ErrItemNotFound]
//   - other non-2xx : [shared.ErrAPIRequest]
//
// # Authentication
//
// Servers behind an OAuth2 proxy are reached through a client-credentials [http.Client] built by
// [NewHTTPClient]; the token header is still sent.
package services
