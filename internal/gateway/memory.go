package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

type memoryObject struct {
	Object
	parentID    string
	folder      bool
	contentType string
	data        []byte
}

// Memory is an in-process remote store for local development and tests.
type Memory struct {
	tokens oauth2.TokenSource

	mu      sync.RWMutex
	objects map[string]*memoryObject
	order   []string
	nextID  int
}

// NewMemory constructs an empty in-memory store gated by tokens.
func NewMemory(tokens oauth2.TokenSource) *Memory {
	return &Memory{tokens: tokens, objects: make(map[string]*memoryObject)}
}

func (m *Memory) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	if _, err := bearer(m.tokens); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		object := m.objects[id]
		if object.folder && object.Name == name && object.parentID == parentID {
			return object.ID, nil
		}
	}
	return m.insertLocked(name, parentID, true, "", nil).ID, nil
}

func (m *Memory) UploadBlob(ctx context.Context, folderID, fileName string, data []byte, contentType string) (Object, error) {
	if _, err := bearer(m.tokens); err != nil {
		return Object{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if parent, ok := m.objects[folderID]; !ok || !parent.folder {
		return Object{}, &RemoteRejected{Operation: "upload_blob", Status: 404, Message: "folder not found"}
	}
	stored := append([]byte(nil), data...)
	return m.insertLocked(fileName, folderID, false, contentType, stored).Object, nil
}

func (m *Memory) ListJSONObjects(ctx context.Context, folderID string) ([]Object, error) {
	if _, err := bearer(m.tokens); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var listed []Object
	for _, id := range m.order {
		object := m.objects[id]
		if !object.folder && object.parentID == folderID &&
			(object.contentType == ContentTypeJSON || strings.HasSuffix(object.Name, ".json")) {
			listed = append(listed, object.Object)
		}
	}
	return listed, nil
}

func (m *Memory) DownloadObject(ctx context.Context, objectID string) ([]byte, error) {
	if _, err := bearer(m.tokens); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	object, ok := m.objects[objectID]
	if !ok || object.folder {
		return nil, &RemoteRejected{Operation: "download_object", Status: 404, Message: "object not found"}
	}
	return append([]byte(nil), object.data...), nil
}

// Put stores raw bytes directly, bypassing the capability.
func (m *Memory) Put(folderID, fileName string, data []byte) Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(fileName, folderID, false, ContentTypeJSON, append([]byte(nil), data...)).Object
}

// Names returns the names of every non-folder object under folderID, sorted.
func (m *Memory) Names(folderID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, id := range m.order {
		if object := m.objects[id]; !object.folder && object.parentID == folderID {
			names = append(names, object.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *Memory) insertLocked(name, parentID string, folder bool, contentType string, data []byte) *memoryObject {
	m.nextID++
	object := &memoryObject{
		Object:      Object{ID: fmt.Sprintf("mem-%d", m.nextID), Name: name},
		parentID:    parentID,
		folder:      folder,
		contentType: contentType,
		data:        data,
	}
	m.objects[object.ID] = object
	m.order = append(m.order, object.ID)
	return object
}
