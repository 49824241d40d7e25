package syncer

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/gateway"
)

const (
	DefaultRootFolder = "Bike Mileage (App)"
	photosFolder      = "photos"
	dataFolder        = "data"
)

// Folders is the remote layout resolved once per phase.
type Folders struct {
	RootID   string
	PhotosID string
	DataID   string
}

func resolveFolders(ctx context.Context, remote gateway.Gateway, rootName string) (Folders, error) {
	rootID, err := remote.EnsureFolder(ctx, rootName, "")
	if err != nil {
		return Folders{}, fmt.Errorf("resolve root folder: %w", err)
	}
	photosID, err := remote.EnsureFolder(ctx, photosFolder, rootID)
	if err != nil {
		return Folders{}, fmt.Errorf("resolve photos folder: %w", err)
	}
	dataID, err := remote.EnsureFolder(ctx, dataFolder, rootID)
	if err != nil {
		return Folders{}, fmt.Errorf("resolve data folder: %w", err)
	}
	return Folders{RootID: rootID, PhotosID: photosID, DataID: dataID}, nil
}
