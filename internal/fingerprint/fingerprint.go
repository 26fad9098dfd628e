// Package fingerprint normalizes page snapshots into stable identity
// strings. The fingerprint ignores text content and current input values so
// dynamic pages (timestamps, counters) hash to the same identity, while
// structural and navigational differences produce distinct identities.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"webatlas/internal/logging"
)

// Length of the truncated hex identity string.
const idLength = 16

// SnapshotError reports a snapshot that cannot be fingerprinted. Callers
// must not create a node from such a snapshot.
type SnapshotError struct {
	URL    string
	Reason string
	Err    error
}

func (e *SnapshotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bad snapshot for %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("bad snapshot for %s: %s", e.URL, e.Reason)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// canonicalRecord is the ordered record hashed into the identity. Field
// order is fixed and all slices are sorted before serialization.
type canonicalRecord struct {
	Forms    []string `json:"forms"`
	Links    []string `json:"links"`
	Skeleton string   `json:"skeleton"`
}

// Compute produces the short stable identity string for a snapshot.
func Compute(snap *PageSnapshot) (string, error) {
	timer := logging.StartTimer(logging.CategoryFingerprint, "Compute")
	defer timer.Stop()

	if snap == nil {
		return "", &SnapshotError{Reason: "nil snapshot"}
	}
	if snap.URL == "" {
		return "", &SnapshotError{Reason: "snapshot has no URL"}
	}
	if len(snap.Elements) == 0 && len(snap.Links) == 0 && strings.TrimSpace(snap.Title) == "" {
		return "", &SnapshotError{URL: snap.URL, Reason: "snapshot has no structure"}
	}

	record := canonicalRecord{
		Forms:    formShapes(snap.Elements),
		Links:    linkTargets(snap.Links),
		Skeleton: skeleton(snap.Elements),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", &SnapshotError{URL: snap.URL, Reason: "canonical record not serializable", Err: err}
	}

	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])[:idLength]
	logging.Get(logging.CategoryFingerprint).Debug("fingerprint %s for %s", id, snap.URL)
	return id, nil
}

// formShapes extracts element name+type pairs, excluding current values.
func formShapes(elements []Element) []string {
	var shapes []string
	var walk func(els []Element)
	walk = func(els []Element) {
		for _, el := range els {
			shapes = append(shapes, fmt.Sprintf("%s:%s:%s", el.Tag, el.Name, el.Type))
			walk(el.Children)
		}
	}
	walk(elements)
	sort.Strings(shapes)
	if shapes == nil {
		shapes = []string{}
	}
	return shapes
}

// linkTargets extracts outbound hrefs only, ignoring anchor text.
func linkTargets(links []Link) []string {
	targets := make([]string, 0, len(links))
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		if l.Href == "" || seen[l.Href] {
			continue
		}
		seen[l.Href] = true
		targets = append(targets, l.Href)
	}
	sort.Strings(targets)
	return targets
}

// skeleton renders the tag hierarchy of the element tree, no names, types,
// values or text.
func skeleton(elements []Element) string {
	var sb strings.Builder
	var walk func(els []Element)
	walk = func(els []Element) {
		for i, el := range els {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(el.Tag)
			if len(el.Children) > 0 {
				sb.WriteByte('(')
				walk(el.Children)
				sb.WriteByte(')')
			}
		}
	}
	walk(elements)
	return sb.String()
}
