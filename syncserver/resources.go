// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validation error sentinels for better error mapping
var (
	ErrUnknownResource = errors.New("unknown_resource")
	ErrBadPayload      = errors.New("bad_payload")
)

// Resource identifies one of the fixed named JSON collections synchronized
// between clients and the server.
type Resource string

const (
	ResourceUsers          Resource = "users"
	ResourcePosts          Resource = "posts"
	ResourceMessages       Resource = "messages"
	ResourceStories        Resource = "stories"
	ResourceVideos         Resource = "videos"
	ResourceScheduledPosts Resource = "scheduled_posts"
	ResourceNotifications  Resource = "notifications"
	ResourceGroupChats     Resource = "group_chats"
)

// Resources lists every synchronized collection in a stable order.
var Resources = []Resource{
	ResourceUsers,
	ResourcePosts,
	ResourceMessages,
	ResourceStories,
	ResourceVideos,
	ResourceScheduledPosts,
	ResourceNotifications,
	ResourceGroupChats,
}

// mapResources hold objects keyed by id; everything else is a list.
var mapResources = map[Resource]bool{
	ResourceUsers:      true,
	ResourceMessages:   true,
	ResourceGroupChats: true,
}

// ParseResource normalizes and validates a resource name from the wire.
func ParseResource(name string) (Resource, error) {
	r := Resource(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Resources {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownResource, name)
}

// DefaultPayload returns the empty value a resource is seeded with before its
// first write: {} for object collections, [] for list collections.
func DefaultPayload(r Resource) json.RawMessage {
	if mapResources[r] {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(`[]`)
}

// FileName returns the on-disk file name for a resource.
func (r Resource) FileName() string {
	return string(r) + ".json"
}

// validatePayload rejects anything that is not a JSON object or array.
// Payloads are otherwise opaque to the sync core.
func validatePayload(payload json.RawMessage) error {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return fmt.Errorf("%w: empty payload", ErrBadPayload)
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return fmt.Errorf("%w: payload must be a JSON object or array", ErrBadPayload)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: malformed JSON", ErrBadPayload)
	}
	return nil
}
