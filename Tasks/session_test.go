package Tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"AcesFuel/Models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshAppliesRetentionAndEnrichment(t *testing.T) {
	old := now.Add(-8 * 24 * time.Hour)
	recent := now.Add(-2 * 24 * time.Hour)

	expired := sampleTask(1, Models.StatusCompleted)
	expired.CompletedAt = &old
	kept := sampleTask(2, Models.StatusCompleted)
	kept.CompletedAt = &recent
	pending := sampleTask(3, Models.StatusPending)
	someoneElse := sampleTask(4, Models.StatusPending)
	someoneElse.DriverName = "Khalid"
	someoneElse.DriverPhone = "0999"

	lat, lon := 24.7, 46.6
	site := Models.Site{SiteName: "Site A", Latitude: &lat, Longitude: &lon}
	site.ID = 10
	sites := &fakeSites{sites: []Models.Site{site}}

	store := &fakeDriverStore{tasks: []Models.Task{expired, kept, pending, someoneElse}}
	session := NewSession(Models.DriverProfile{Name: "Omar Saleh", Phone: "0500"}, Deps{
		Store:  store,
		Sites:  sites,
		Clock:  fixedClock,
		Logger: zerolog.Nop(),
	})

	tasks := session.Refresh(context.Background())
	require.Len(t, tasks, 2)
	assert.Equal(t, uint(2), tasks[0].ID)
	assert.Equal(t, uint(3), tasks[1].ID)

	require.NotNil(t, tasks[0].LocalCompletedAt)
	assert.True(t, tasks[0].LocalCompletedAt.Equal(recent))

	for _, visible := range tasks {
		require.NotNil(t, visible.SiteLatitude)
		assert.Equal(t, lat, *visible.SiteLatitude)
		assert.Equal(t, lon, *visible.SiteLongitude)
	}
	assert.Equal(t, 1, sites.nameCalls)

	session.Refresh(context.Background())
	assert.Equal(t, 1, sites.nameCalls, "cached coordinates are reused across refreshes")
}

func TestRefreshReadFailureYieldsEmptyList(t *testing.T) {
	store := &fakeDriverStore{tasks: []Models.Task{sampleTask(1, Models.StatusPending)}}
	session := newTestSession(store, nil)
	require.Len(t, session.Refresh(context.Background()), 1)

	store.listErr = errRemote
	assert.Empty(t, session.Refresh(context.Background()))
	assert.Empty(t, session.Tasks())
}

func TestRefreshDiscardsStaleResults(t *testing.T) {
	store := &fakeDriverStore{tasks: []Models.Task{sampleTask(1, Models.StatusPending), sampleTask(2, Models.StatusPending)}}
	started := make(chan struct{})
	release := make(chan struct{})
	store.beforeList = func(call int) {
		if call == 1 {
			close(started)
			<-release
		}
	}
	session := newTestSession(store, nil)

	done := make(chan []Models.Task)
	go func() { done <- session.Refresh(context.Background()) }()
	<-started

	fresh := session.Refresh(context.Background())
	require.Len(t, fresh, 2)

	store.mu.Lock()
	store.tasks = nil
	store.mu.Unlock()
	close(release)

	stale := <-done
	assert.Len(t, stale, 2)
	assert.Len(t, session.Tasks(), 2)
}

func TestStartFromPending(t *testing.T) {
	store := &fakeDriverStore{tasks: []Models.Task{sampleTask(1, Models.StatusPending)}}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())

	started, err := session.Start(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Models.StatusInProgress, started.Status)
	assert.Nil(t, started.CompletedAt)
	assert.Nil(t, started.LocalCompletedAt)

	require.Len(t, store.updates, 1)
	assert.Equal(t, map[string]interface{}{"status": Models.StatusInProgress}, store.updates[0])
	assert.Equal(t, Models.StatusInProgress, session.Tasks()[0].Status)
}

func TestStartGuardsNonPending(t *testing.T) {
	recent := now.Add(-time.Hour)
	done := sampleTask(1, Models.StatusCompleted)
	done.CompletedAt = &recent
	store := &fakeDriverStore{tasks: []Models.Task{done, sampleTask(2, Models.StatusInProgress)}}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())

	for _, id := range []uint{1, 2} {
		_, err := session.Start(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Zero(t, store.updateCount())

	_, err := session.Start(context.Background(), 99)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStartRejectedLeavesTaskUnchanged(t *testing.T) {
	store := &fakeDriverStore{tasks: []Models.Task{sampleTask(1, Models.StatusPending)}, updateErrs: []error{errRemote}}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())

	_, err := session.Start(context.Background(), 1)
	assert.ErrorIs(t, err, errRemote)
	assert.Equal(t, Models.StatusPending, session.Tasks()[0].Status)
}

func TestOpenCompletionPrefills(t *testing.T) {
	pending := sampleTask(7, Models.StatusInProgress)
	pending.Notes = "gate code 1234"
	store := &fakeDriverStore{tasks: []Models.Task{pending}}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())

	first, err := session.OpenCompletion(7)
	require.NoError(t, err)
	_, err = first.Upload(context.Background(), Image{Slot: SlotTankBefore, FileName: "a.jpg", Data: []byte("img")})
	require.NoError(t, err)

	capture, err := session.OpenCompletion(7)
	require.NoError(t, err)
	form := capture.Form()
	assert.Equal(t, "Site A", form.SiteID)
	assert.Equal(t, "7", form.MissionID)
	assert.Equal(t, "gate code 1234", form.Notes)
	assert.Empty(t, capture.URLs(), "reopening clears previews")

	mission := "M-2026-0042"
	withMission := sampleTask(8, Models.StatusPending)
	withMission.MissionID = &mission
	store.tasks = append(store.tasks, withMission)
	session.Refresh(context.Background())
	capture, err = session.OpenCompletion(8)
	require.NoError(t, err)
	assert.Equal(t, mission, capture.Form().MissionID)

	assert.Zero(t, store.updateCount(), "opening a completion never writes")
}

func TestSubmitRecordsEntryAndCompletes(t *testing.T) {
	store := &fakeDriverStore{tasks: []Models.Task{sampleTask(1, Models.StatusInProgress)}}
	var notified []Models.Task
	session := NewSession(Models.DriverProfile{Name: "Omar Saleh", Phone: "0500"}, Deps{
		Store:    store,
		Sites:    &fakeSites{},
		Uploader: &fakeUploader{},
		Clock:    fixedClock,
		Logger:   zerolog.Nop(),
		OnComplete: func(ctx context.Context, task Models.Task, entry Models.TaskEntry) {
			notified = append(notified, task)
		},
	})
	session.Refresh(context.Background())

	capture, err := session.OpenCompletion(1)
	require.NoError(t, err)
	form := capture.Form()
	form.QuantityAdded = "40"
	capture.UpdateForm(form)

	completed, err := session.Submit(context.Background())
	require.NoError(t, err)

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, 40.0, entry.Liters)
	assert.Nil(t, entry.CounterBeforeURL)
	assert.Nil(t, entry.TankBeforeURL)
	assert.Nil(t, entry.CounterAfterURL)
	assert.Nil(t, entry.TankAfterURL)
	require.NotNil(t, entry.SubmittedBy)
	assert.Equal(t, "Omar Saleh", *entry.SubmittedBy)

	require.Len(t, store.updates, 1)
	assert.Equal(t, Models.StatusCompleted, store.updates[0]["status"])
	assert.Equal(t, now, store.updates[0]["completed_at"])

	assert.Equal(t, Models.StatusCompleted, completed.Status)
	require.NotNil(t, completed.LocalCompletedAt)
	assert.True(t, completed.LocalCompletedAt.Equal(now))
	require.NotNil(t, completed.CompletedAt)

	visible := session.Tasks()
	require.Len(t, visible, 1)
	assert.Equal(t, Models.StatusCompleted, visible[0].Status)

	require.Len(t, notified, 1)
	_, err = session.Completion()
	assert.ErrorIs(t, err, ErrNoCompletion)
}

func TestSubmitLegacyLiters(t *testing.T) {
	store := &fakeDriverStore{tasks: []Models.Task{sampleTask(1, Models.StatusPending)}}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())

	capture, err := session.OpenCompletion(1)
	require.NoError(t, err)
	capture.UpdateForm(Form{Liters: "12.5", Rate: "2.18", Odometer: "120455", Station: "North"})

	_, err = session.Submit(context.Background())
	require.NoError(t, err)

	entry := store.entries[0]
	assert.Equal(t, 12.5, entry.Liters)
	require.NotNil(t, entry.Rate)
	assert.Equal(t, 2.18, *entry.Rate)
	require.NotNil(t, entry.Odometer)
	assert.Equal(t, 120455, *entry.Odometer)
	assert.Nil(t, entry.ReceiptNumber)
}

func TestSubmitCarriesUploadedImages(t *testing.T) {
	uploader := &fakeUploader{}
	store := &fakeDriverStore{tasks: []Models.Task{sampleTask(3, Models.StatusInProgress)}}
	session := newTestSession(store, uploader)
	session.Refresh(context.Background())

	capture, err := session.OpenCompletion(3)
	require.NoError(t, err)
	_, err = capture.Upload(context.Background(), Image{Slot: SlotCounterAfter, FileName: "IMG_1.JPG", Data: []byte{0xFF, 0xD8, 0xFF, 0xE0}})
	require.NoError(t, err)

	completed, err := session.Submit(context.Background())
	require.NoError(t, err)

	url := "https://cdn.test/Omar_Saleh/3/counter_after_" + formatMillis(now) + ".jpg"
	assert.Equal(t, url, store.updates[0]["counter_after_url"])
	_, hasOther := store.updates[0]["tank_after_url"]
	assert.False(t, hasOther)
	require.NotNil(t, store.entries[0].CounterAfterURL)
	assert.Equal(t, url, *store.entries[0].CounterAfterURL)
	assert.Equal(t, url, completed.CounterAfterURL)
}

func TestSubmitFallsBackToReducedWrite(t *testing.T) {
	store := &fakeDriverStore{
		tasks:      []Models.Task{sampleTask(1, Models.StatusInProgress)},
		updateErrs: []error{errRemote},
	}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())

	capture, err := session.OpenCompletion(1)
	require.NoError(t, err)
	capture.UpdateForm(Form{QuantityAdded: "5", Notes: "done"})

	completed, err := session.Submit(context.Background())
	require.NoError(t, err)

	require.Len(t, store.updates, 2)
	assert.Equal(t, map[string]interface{}{"status": Models.StatusCompleted, "notes": "done"}, store.updates[1])
	assert.Equal(t, Models.StatusCompleted, completed.Status)
	assert.Nil(t, completed.CompletedAt)
	require.NotNil(t, completed.LocalCompletedAt)
}

func TestSubmitBothWritesRejected(t *testing.T) {
	store := &fakeDriverStore{
		tasks:      []Models.Task{sampleTask(1, Models.StatusInProgress)},
		updateErrs: []error{errRemote, errRemote},
	}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())

	_, err := session.OpenCompletion(1)
	require.NoError(t, err)

	_, err = session.Submit(context.Background())
	assert.ErrorIs(t, err, errRemote)
	assert.Len(t, store.entries, 1, "the entry is written before the status update")
	assert.Equal(t, Models.StatusInProgress, session.Tasks()[0].Status)

	_, err = session.Completion()
	assert.NoError(t, err, "the completion stays open for a retry")
}

func TestSubmitContinuesWhenEntryInsertFails(t *testing.T) {
	store := &fakeDriverStore{tasks: []Models.Task{sampleTask(1, Models.StatusPending)}, entryErr: errRemote}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())

	_, err := session.OpenCompletion(1)
	require.NoError(t, err)
	completed, err := session.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Models.StatusCompleted, completed.Status)
}

func TestSubmitRejectsCompletedTask(t *testing.T) {
	recent := now.Add(-time.Hour)
	done := sampleTask(1, Models.StatusCompleted)
	done.CompletedAt = &recent
	store := &fakeDriverStore{tasks: []Models.Task{done}}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())

	_, err := session.OpenCompletion(1)
	require.NoError(t, err)
	_, err = session.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, store.entries)
	assert.Zero(t, store.updateCount())
}

func TestSubmitRejectsTerminalTask(t *testing.T) {
	for _, status := range []Models.ExecutionStatus{Models.StatusIssue, Models.StatusFailed, Models.StatusCanceled} {
		t.Run(string(status), func(t *testing.T) {
			store := &fakeDriverStore{tasks: []Models.Task{sampleTask(7, status)}}
			session := newTestSession(store, nil)
			session.Refresh(context.Background())

			_, err := session.OpenCompletion(7)
			require.NoError(t, err)
			_, err = session.Submit(context.Background())
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Empty(t, store.entries)
			assert.Zero(t, store.updateCount())
			assert.Equal(t, status, session.Tasks()[0].Status)
		})
	}
}

func TestSubmitWithoutCompletion(t *testing.T) {
	session := newTestSession(&fakeDriverStore{}, nil)
	_, err := session.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoCompletion)
}

func TestViewAndDirections(t *testing.T) {
	recent := now.Add(-time.Hour)
	done := sampleTask(1, Models.StatusCompleted)
	done.CompletedAt = &recent
	returned := sampleTask(2, Models.StatusPending)
	returned.AdminStatus = Models.AdminReturned
	lat, lon := 21.5, 39.2
	located := sampleTask(3, Models.StatusInProgress)
	located.SiteName = "Jeddah Port"
	located.SiteLatitude = &lat
	located.SiteLongitude = &lon

	store := &fakeDriverStore{tasks: []Models.Task{done, returned, located}}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())

	view := session.View(FilterReturned, "")
	require.Len(t, view.Tasks, 1)
	assert.Equal(t, uint(2), view.Tasks[0].ID)
	require.Len(t, view.Recent, 1)
	assert.Equal(t, uint(1), view.Recent[0].ID)
	assert.Equal(t, Counts{Active: 1, Pending: 1, Returned: 1, Open: 2, ActiveTotal: 1}, view.Counts)

	link, err := session.DirectionsURL(3)
	require.NoError(t, err)
	assert.Equal(t, "https://www.google.com/maps/dir/?api=1&destination=21.5%2C39.2", link)
}

func TestCloseDropsState(t *testing.T) {
	store := &fakeDriverStore{tasks: []Models.Task{sampleTask(1, Models.StatusPending)}}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())
	_, err := session.OpenCompletion(1)
	require.NoError(t, err)

	session.Close()
	assert.Empty(t, session.Tasks())
	assert.Nil(t, session.Refresh(context.Background()))
	_, err = session.Start(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestConcurrentSessionUse(t *testing.T) {
	store := &fakeDriverStore{tasks: []Models.Task{sampleTask(1, Models.StatusPending), sampleTask(2, Models.StatusPending)}}
	session := newTestSession(store, nil)
	session.Refresh(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.Refresh(context.Background())
			session.View(FilterAll, "site")
		}()
	}
	wg.Wait()
	assert.Len(t, session.Tasks(), 2)
}
