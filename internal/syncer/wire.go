package syncer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
)

const (
	dataFileSuffix  = ".json"
	photoFileSuffix = ".jpg"
)

// ParseFailure reports a remote document that could not be turned into an entry.
type ParseFailure struct {
	ObjectID string
	Err      error
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("syncer: parse remote object %s: %v", e.ObjectID, e.Err)
}

func (e *ParseFailure) Unwrap() error {
	return e.Err
}

// EncodeEntry renders the remote document for entry. Binary fields are omitted and the
// declared status is always synced, since the document only exists once uploaded.
func EncodeEntry(entry entries.FuelEntry) ([]byte, error) {
	document := entry
	document.Photo = nil
	document.SyncStatus = entries.StatusSynced
	document.LastError = nil
	return json.MarshalIndent(document, "", "  ")
}

// DecodeEntry parses a remote document. Documents without a local_id are rejected.
func DecodeEntry(objectID string, payload []byte) (entries.FuelEntry, error) {
	var entry entries.FuelEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return entries.FuelEntry{}, &ParseFailure{ObjectID: objectID, Err: err}
	}
	localID, err := entries.NewLocalID(entry.LocalID)
	if err != nil {
		return entries.FuelEntry{}, &ParseFailure{ObjectID: objectID, Err: err}
	}
	entry.LocalID = localID.String()
	if strings.TrimSpace(entry.VehicleID) == "" {
		entry.VehicleID = entries.DefaultVehicleID
	}
	entry.Photo = nil
	return entry, nil
}

func dataFileName(localID string) string {
	return localID + dataFileSuffix
}

func photoFileName(localID string) string {
	return localID + photoFileSuffix
}
