package adapter

import (
	"fmt"
	"strings"

	"github.com/opsledger/opsledger/internal/canon"
)

// Default materialization for the Agent kind, frozen per hash version.
//
// The platform defaults these fields when the author omits them; observing
// a defaulted object and observing an explicit object must produce the
// same payload, so the adapter applies the same defaults unconditionally.
// Changing this set changes event hashes and therefore requires a new hash
// version - the list below is authoritative for v1 and v2.
const (
	DefaultRole          = "worker"
	DefaultWorkspaceSize = "1Gi"
	DefaultReplicas      = int64(1)
	DefaultPaused        = false
)

// strippedSpecFields are dropped from observed specs before
// canonicalization: their values are assigned by the platform or are only
// meaningful under the observing process/host, so they would make
// identical intents hash differently.
var strippedSpecFields = map[string]bool{
	"nodeName":       true,
	"hostIP":         true,
	"deprecatedRole": true,
}

// NormalizeAgentSpec strips, defaults, and normalizes an observed Agent
// spec into its canonical payload form.
//
// Platform metadata (uid, resourceVersion, generation, creationTimestamp,
// managedFields, last-applied annotations) never reaches this function:
// the adapter reads only name, namespace, and spec from the observed
// object, which strips the rest by construction.
func NormalizeAgentSpec(raw map[string]any) (canon.Object, error) {
	spec := make(map[string]any, len(raw))
	for k, v := range raw {
		if strippedSpecFields[k] {
			continue
		}
		spec[k] = v
	}

	// Materialize defaults before conversion so defaulted and explicit
	// specs collapse.
	if _, ok := spec["role"]; !ok {
		spec["role"] = DefaultRole
	}
	if _, ok := spec["replicas"]; !ok {
		spec["replicas"] = DefaultReplicas
	}
	if _, ok := spec["paused"]; !ok {
		spec["paused"] = DefaultPaused
	}
	ws, ok := spec["workspace"].(map[string]any)
	if !ok {
		ws = map[string]any{}
	} else {
		copied := make(map[string]any, len(ws))
		for k, v := range ws {
			copied[k] = v
		}
		ws = copied
	}
	if _, ok := ws["size"]; !ok {
		ws["size"] = DefaultWorkspaceSize
	}
	spec["workspace"] = ws

	// Normalize enumerated fields to a single canonical case.
	if role, ok := spec["role"].(string); ok {
		spec["role"] = normalizeEnum(role)
	} else {
		return nil, fmt.Errorf("spec.role is not a string")
	}

	v, err := canon.FromGo(spec)
	if err != nil {
		return nil, fmt.Errorf("canonicalize spec: %w", err)
	}
	obj, ok := v.(canon.Object)
	if !ok {
		return nil, fmt.Errorf("spec did not canonicalize to an object")
	}
	return obj, nil
}

// normalizeEnum lowercases and trims an enumerated field value.
func normalizeEnum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
