package Tasks

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"AcesFuel/Models"

	"github.com/rs/zerolog"
)

var (
	now       = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	errRemote = errors.New("remote rejected")
)

func fixedClock() time.Time { return now }

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

type fakeDriverStore struct {
	mu         sync.Mutex
	tasks      []Models.Task
	listErr    error
	listCalls  int
	beforeList func(call int)
	updateErrs []error
	updates    []map[string]interface{}
	entries    []Models.TaskEntry
	entryErr   error
}

func (f *fakeDriverStore) ListTasksForDriver(ctx context.Context, name, phone string) ([]Models.Task, error) {
	f.mu.Lock()
	f.listCalls++
	call := f.listCalls
	hook := f.beforeList
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Models.Task
	for _, task := range f.tasks {
		if task.DriverName == name || (phone != "" && task.DriverPhone == phone) {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeDriverStore) UpdateTask(ctx context.Context, id uint, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields)
	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		if err != nil {
			return err
		}
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			if status, ok := fields["status"].(Models.ExecutionStatus); ok {
				f.tasks[i].Status = status
			}
		}
	}
	return nil
}

func (f *fakeDriverStore) InsertEntry(ctx context.Context, entry *Models.TaskEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entryErr != nil {
		return f.entryErr
	}
	entry.ID = uint(len(f.entries) + 1)
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeDriverStore) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeSites struct {
	mu        sync.Mutex
	sites     []Models.Site
	nameCalls int
	idCalls   int
}

func (f *fakeSites) SitesByID(ctx context.Context, ids []uint) ([]Models.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls++
	var out []Models.Site
	for _, site := range f.sites {
		for _, id := range ids {
			if site.ID == id {
				out = append(out, site)
			}
		}
	}
	return out, nil
}

func (f *fakeSites) SitesByName(ctx context.Context, names []string) ([]Models.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameCalls++
	var out []Models.Site
	for _, site := range f.sites {
		for _, name := range names {
			if strings.EqualFold(site.SiteName, name) {
				out = append(out, site)
			}
		}
	}
	return out, nil
}

type fakeUploader struct {
	mu           sync.Mutex
	paths        []string
	contentTypes []string
	failSlots    map[string]bool
	release      chan struct{}
}

func (f *fakeUploader) Upload(ctx context.Context, objectPath, contentType string, body io.Reader) (string, error) {
	if f.release != nil {
		<-f.release
	}
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for slot := range f.failSlots {
		if strings.Contains(objectPath, "/"+slot+"_") {
			return "", errors.New("bucket unavailable")
		}
	}
	f.paths = append(f.paths, objectPath)
	f.contentTypes = append(f.contentTypes, contentType)
	return "https://cdn.test/" + objectPath, nil
}

func (f *fakeUploader) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

func sampleTask(id uint, status Models.ExecutionStatus) Models.Task {
	t := Models.Task{
		SiteName:    "Site A",
		DriverName:  "Omar Saleh",
		DriverPhone: "0500",
		Status:      status,
		AdminStatus: Models.AdminCreation,
	}
	t.ID = id
	return t
}

func newTestSession(store *fakeDriverStore, uploader *fakeUploader) *Session {
	if uploader == nil {
		uploader = &fakeUploader{}
	}
	return NewSession(Models.DriverProfile{Name: "Omar Saleh", Phone: "0500"}, Deps{
		Store:          store,
		Sites:          &fakeSites{},
		Uploader:       uploader,
		MaxUploadBytes: 10 * 1024 * 1024,
		Clock:          fixedClock,
		Logger:         zerolog.Nop(),
	})
}
