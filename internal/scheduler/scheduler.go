package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
)

const jobTag = "location-manager"

// RunFunc performs one location-manager pass.
type RunFunc func(ctx context.Context)

// Scheduler re-runs the location manager periodically and whenever one of
// the watched files (the manual location files) changes.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	run        RunFunc
	interval   time.Duration
	watchPaths map[string]bool
	watcher    *fsnotify.Watcher
	done       chan struct{}
}

// New creates a new Scheduler.
func New(interval time.Duration, watchPaths []string, run RunFunc) *Scheduler {
	paths := make(map[string]bool, len(watchPaths))
	for _, p := range watchPaths {
		if abs, err := filepath.Abs(p); err == nil {
			paths[abs] = true
		}
	}
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		run:        run,
		interval:   interval,
		watchPaths: paths,
		done:       make(chan struct{}),
	}
}

// Start schedules the periodic job (first run immediately) and starts the
// file watcher. Runs never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	interval := s.interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	_, err := s.scheduler.Every(interval).Tag(jobTag).SingletonMode().Do(func() {
		log.Info().Msg("scheduler: running location manager")
		s.run(ctx)
	})
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()

	s.startWatcher()
	return nil
}

func (s *Scheduler) startWatcher() {
	if len(s.watchPaths) == 0 {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("scheduler: could not create file watcher")
		return
	}

	dirs := make(map[string]bool)
	for p := range s.watchPaths {
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("scheduler: could not watch directory")
			continue
		}
		dirs[dir] = true
	}
	if len(dirs) == 0 {
		watcher.Close()
		return
	}

	s.watcher = watcher
	go s.watchLoop()
}

func (s *Scheduler) watchLoop() {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !s.watchPaths[event.Name] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				log.Info().Str("path", event.Name).Msg("scheduler: location file changed, running now")
				if err := s.scheduler.RunByTag(jobTag); err != nil {
					log.Warn().Err(err).Msg("scheduler: could not trigger run")
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("scheduler: watcher error")
		}
	}
}

// Stop stops the scheduler and the file watcher.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.watcher != nil {
		s.watcher.Close()
		<-s.done
	}
}
