package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cic-sync/internal/domain"
	"cic-sync/internal/lessoncrypt"
	"cic-sync/internal/localstore"
	"cic-sync/internal/logging"
	"cic-sync/internal/metrics"
	"cic-sync/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultDebounce is the quiet period before queued remote writes are sent.
const DefaultDebounce = 2500 * time.Millisecond

const (
	indexKey   = "lessons"
	pendingKey = "pending_sync"
)

// Mode is the orchestrator's readiness state.
type Mode int

const (
	ModeUninitialized Mode = iota
	ModeLocalOnly
	ModeRemoteEnabled
)

func (m Mode) String() string {
	switch m {
	case ModeLocalOnly:
		return "local-only"
	case ModeRemoteEnabled:
		return "remote-enabled"
	default:
		return "uninitialized"
	}
}

// Options tune an Orchestrator. The zero value is usable.
type Options struct {
	FolderID      string
	ProgressFiles bool
	Debounce      time.Duration
	Clock         Clock
	Logger        *zap.Logger
	Identity      Identity
	// Metrics defaults to a private, unregistered set.
	Metrics       *metrics.Collectors
	// OnRemoteError receives failures of deferred remote writes.
	OnRemoteError func(lessonID string, err error)
}

// contentRecord is what lives under content_<uid>_<lessonId>.
type contentRecord struct {
	ID           string     `json:"id"`
	DriveFileID  string     `json:"driveFileId,omitempty"`
	ModifiedTime *time.Time `json:"modifiedTime,omitempty"`
	domain.Content
}

// syncedAt is the newest moment this copy is known to reflect.
func (r contentRecord) syncedAt() time.Time {
	t := r.UpdatedAt
	if r.ModifiedTime != nil && r.ModifiedTime.After(t) {
		t = *r.ModifiedTime
	}
	return t
}

// progressRecord is what lives under progress_<uid>_<lessonId>.
type progressRecord struct {
	ID string `json:"id"`
	domain.Progress
}

// Orchestrator is the storage facade: local cache first, remote store when
// credentials are present.
type Orchestrator struct {
	sessions *session.Manager
	remote   DocumentStore
	deriver  *lessoncrypt.Deriver
	opts     Options
	metrics  *metrics.Collectors
	clock    Clock
	log      *zap.Logger
	queue    *Debouncer
	group    singleflight.Group

	// local serializes read-modify-write cycles on the user store.
	local sync.Mutex

	mu    sync.RWMutex
	mode  Mode
	token string

	keyMu sync.Mutex
	keys  map[string]lessoncrypt.Key
}

func NewOrchestrator(sessions *session.Manager, remote DocumentStore, deriver *lessoncrypt.Deriver, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if deriver == nil {
		deriver = lessoncrypt.NewDeriver("", "", 0)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	log := opts.Logger.With(zap.String("component", "orchestrator"))
	return &Orchestrator{
		sessions: sessions,
		remote:   remote,
		deriver:  deriver,
		opts:     opts,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		log:      log,
		queue:    NewDebouncer(opts.Clock, opts.Debounce, log),
		keys:     make(map[string]lessoncrypt.Key),
	}
}

// SetDriveAccess switches between local-only and remote-enabled operation.
// Enabling remote access requeues lessons saved while offline.
func (o *Orchestrator) SetDriveAccess(ctx context.Context, available bool, token string) {
	o.mu.Lock()
	if available && token != "" && o.remote != nil {
		o.mode = ModeRemoteEnabled
		o.token = token
	} else {
		if available && o.remote == nil {
			o.log.Warn("remote access requested without a document store")
		}
		o.mode = ModeLocalOnly
		o.token = ""
	}
	mode := o.mode
	o.mu.Unlock()

	o.log.Info("storage mode changed", zap.Stringer("mode", mode))
	if mode == ModeRemoteEnabled {
		o.requeueDirty(ctx)
	}
}

// Mode returns the current readiness state.
func (o *Orchestrator) Mode() Mode {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.mode
}

func (o *Orchestrator) remoteToken() (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.mode != ModeRemoteEnabled {
		return "", false
	}
	return o.token, true
}

// Reconnect asks the identity for a fresh token and re-enables remote mode.
func (o *Orchestrator) Reconnect(ctx context.Context) error {
	if o.remote == nil {
		return domain.ErrRemoteUnavailable
	}
	if o.opts.Identity == nil {
		return fmt.Errorf("%w: no identity configured", domain.ErrReauthNeeded)
	}
	token, err := o.opts.Identity.EnsureDriveAccess(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrReauthNeeded, err)
	}
	o.SetDriveAccess(ctx, true, token)
	return nil
}

// ForgetKeys drops every cached derived key.
func (o *Orchestrator) ForgetKeys() {
	o.keyMu.Lock()
	defer o.keyMu.Unlock()
	o.keys = make(map[string]lessoncrypt.Key)
}

func (o *Orchestrator) key(uid string) (lessoncrypt.Key, error) {
	o.keyMu.Lock()
	defer o.keyMu.Unlock()
	if k, ok := o.keys[uid]; ok {
		return k, nil
	}
	k, err := o.deriver.Derive(uid)
	if err != nil {
		return lessoncrypt.Key{}, err
	}
	o.keys[uid] = k
	return k, nil
}

// ListLocalLessons returns the cached metadata index without network access.
func (o *Orchestrator) ListLocalLessons(ctx context.Context) ([]domain.Descriptor, error) {
	_, store, err := o.sessions.Current()
	if err != nil {
		return nil, err
	}
	return readIndex(ctx, store), nil
}

// ListLessons returns lesson descriptors, merged with the remote index when
// available. Remote failures fall back to the local index.
func (o *Orchestrator) ListLessons(ctx context.Context) ([]domain.Descriptor, error) {
	uid, store, err := o.sessions.Current()
	if err != nil {
		return nil, err
	}
	local := readIndex(ctx, store)

	token, ok := o.remoteToken()
	if !ok {
		return local, nil
	}
	remote, err := o.remote.ListMetadata(ctx, token)
	if err != nil {
		o.remoteFailed("list", "", err)
		return local, nil
	}

	o.local.Lock()
	defer o.local.Unlock()
	if !o.stillActive(uid) {
		return local, nil
	}
	merged := mergeIndex(readIndex(ctx, store), remote)
	store.Set(ctx, indexKey, merged)
	return merged, nil
}

// SaveLesson splits lesson into content and progress, merges each with the
// cached records and persists them. Remote writes are queued. A save that
// would leave the lesson without questions is refused: the previous state is
// returned and nothing is written.
func (o *Orchestrator) SaveLesson(ctx context.Context, lesson domain.Lesson) (domain.Lesson, error) {
	uid, store, err := o.sessions.Current()
	if err != nil {
		return lesson, err
	}
	if lesson.ID == "" {
		return lesson, fmt.Errorf("%w: lesson id is required", domain.ErrInvalidLesson)
	}
	content, progress := splitLesson(lesson)
	for qid, r := range progress.Ratings {
		if !r.Valid() {
			return lesson, fmt.Errorf("%w: rating %d for question %q", domain.ErrInvalidLesson, r, qid)
		}
	}

	o.local.Lock()
	cached, hasContent := loadContent(ctx, store, uid, lesson.ID)
	cachedProgress, _ := loadProgress(ctx, store, uid, lesson.ID)

	if content.Questions != nil && len(content.Questions) == 0 && len(cached.Questions) > 0 {
		o.local.Unlock()
		o.blocked(lesson.ID, "empty questions would erase cached content")
		return assemble(cached, cachedProgress).WithRatings(), nil
	}
	if len(cached.Questions) == 0 && len(content.Questions) == 0 {
		o.local.Unlock()
		o.blocked(lesson.ID, "lesson has no questions")
		if hasContent {
			return assemble(cached, cachedProgress).WithRatings(), nil
		}
		return lesson, nil
	}

	now := o.clock.Now().UTC()
	next := cached
	next.ID = lesson.ID
	if lesson.DriveFileID != "" && next.DriveFileID == "" {
		next.DriveFileID = lesson.DriveFileID
	}
	if content.HasFields() {
		next.Content = cached.Content.Overlay(content)
		next.UpdatedAt = now
		store.Set(ctx, contentKey(uid, lesson.ID), next)
	}

	nextProgress := cachedProgress
	nextProgress.ID = lesson.ID
	if progress.HasFields() {
		nextProgress.Progress = cachedProgress.Progress.Overlay(progress)
		nextProgress.ProgressUpdatedAt = now
		store.Set(ctx, progressKey(uid, lesson.ID), nextProgress)
	}

	saved := assemble(next, nextProgress)
	upsertIndex(ctx, store, saved.Descriptor())

	// Saves made offline stay dirty and are requeued by SetDriveAccess.
	if o.remote != nil {
		markDirty(ctx, store, lesson.ID)
	}
	_, remoteOn := o.remoteToken()
	o.local.Unlock()

	o.metrics.Saves.WithLabelValues("stored").Inc()
	if remoteOn {
		o.schedulePush(uid, lesson.ID)
	}
	return saved.WithRatings(), nil
}

func (o *Orchestrator) blocked(lessonID, reason string) {
	o.metrics.Saves.WithLabelValues("blocked").Inc()
	o.log.Warn("BLOCKED SAVE", zap.String("lesson_id", lessonID), zap.String("reason", reason))
}

// GetLessonContent hydrates a lesson from the local cache and, when possible,
// the remote store. Remote failures degrade to local data. A payload that does
// not decrypt with the active identity yields the stub's descriptive fields and
// an error wrapping domain.ErrDecryption.
func (o *Orchestrator) GetLessonContent(ctx context.Context, stub domain.Descriptor) (domain.Lesson, error) {
	uid, store, err := o.sessions.Current()
	if err != nil {
		return stub.Stub(), err
	}
	v, err, _ := o.group.Do(domain.CompositeKey(uid, stub.ID), func() (any, error) {
		return o.hydrate(ctx, uid, store, stub)
	})
	lesson, _ := v.(domain.Lesson)
	return lesson, err
}

func (o *Orchestrator) hydrate(ctx context.Context, uid string, store *localstore.NamespacedStore, stub domain.Descriptor) (domain.Lesson, error) {
	o.local.Lock()
	content, hasContent := loadContent(ctx, store, uid, stub.ID)
	progress, _ := loadProgress(ctx, store, uid, stub.ID)
	o.local.Unlock()

	if !hasContent {
		s := stub.Stub()
		content = contentRecord{ID: stub.ID, DriveFileID: s.DriveFileID, ModifiedTime: s.ModifiedTime, Content: s.Content}
	}
	progress.ID = stub.ID
	local := assemble(content, progress)

	token, ok := o.remoteToken()
	fileID := stub.DriveFileID
	if fileID == "" {
		fileID = content.DriveFileID
	}
	if !ok || fileID == "" {
		return local.WithRatings(), nil
	}

	// Never the local record's time: that would make every remote edit look stale.
	modified := stub.ModifiedTime
	if modified == nil {
		modified = o.remoteModifiedTime(ctx, token, stub.ID, fileID)
	}
	handle := domain.FileHandle{ID: fileID}
	if modified != nil {
		handle.ModifiedTime = *modified
	}
	raw, err := o.remote.FetchContent(ctx, token, handle)
	if err != nil {
		o.remoteFailed("fetch", stub.ID, err)
		return local.WithRatings(), nil
	}
	payload, err := DecodePayload(raw)
	if err != nil {
		o.log.Warn("remote payload unreadable", zap.String("lesson_id", stub.ID), zap.Error(err))
		return local.WithRatings(), nil
	}
	key, err := o.key(uid)
	if err != nil {
		return stub.Stub(), err
	}
	remote, err := OpenPayload(payload, key)
	if err != nil {
		o.metrics.DecryptFailures.Inc()
		o.log.Warn("remote lesson not readable with current identity", zap.String("lesson_id", stub.ID), zap.Error(err))
		return stub.Stub(), fmt.Errorf("lesson %s: %w", stub.ID, err)
	}
	remoteContent, remoteProgress := splitLesson(remote)
	if modified == nil && !remoteContent.UpdatedAt.IsZero() {
		updated := remoteContent.UpdatedAt
		modified = &updated
	}

	if o.opts.ProgressFiles {
		if p, found := o.fetchProgressFile(ctx, token, key, stub.ID); found {
			remoteProgress = MergeProgress(remoteProgress, p)
		}
	}

	nextContent := content
	contentChanged := false
	if remoteContentWins(content, hasContent, remoteContent, modified) {
		nextContent = contentRecord{ID: stub.ID, DriveFileID: fileID, ModifiedTime: modified, Content: remoteContent}
		contentChanged = true
	} else if hasContent && (content.DriveFileID != fileID || content.ModifiedTime == nil) {
		nextContent.DriveFileID = fileID
		if nextContent.ModifiedTime == nil {
			nextContent.ModifiedTime = modified
		}
		contentChanged = true
	}

	nextProgress := progress
	nextProgress.Progress = MergeProgress(progress.Progress, remoteProgress)
	progressChanged := !sameProgress(nextProgress.Progress, progress.Progress)

	hydrated := assemble(nextContent, nextProgress)

	o.local.Lock()
	if o.stillActive(uid) {
		if contentChanged {
			store.Set(ctx, contentKey(uid, stub.ID), nextContent)
		}
		if progressChanged {
			store.Set(ctx, progressKey(uid, stub.ID), nextProgress)
		}
		if (contentChanged || progressChanged) && len(nextContent.Questions) > 0 {
			upsertIndex(ctx, store, hydrated.Descriptor())
		}
	}
	o.local.Unlock()

	return hydrated.WithRatings(), nil
}

// remoteModifiedTime looks up when fileID was last written remotely.
func (o *Orchestrator) remoteModifiedTime(ctx context.Context, token, lessonID, fileID string) *time.Time {
	handle, err := o.remote.FindFileByName(ctx, token, lessonFileName(lessonID), o.opts.FolderID)
	if err != nil {
		o.remoteFailed("find", lessonID, err)
		return nil
	}
	if handle == nil || handle.ID != fileID || handle.ModifiedTime.IsZero() {
		return nil
	}
	modified := handle.ModifiedTime
	return &modified
}

func (o *Orchestrator) fetchProgressFile(ctx context.Context, token string, key lessoncrypt.Key, lessonID string) (domain.Progress, bool) {
	handle, err := o.remote.FindFileByName(ctx, token, progressFileName(lessonID), o.opts.FolderID)
	if err != nil {
		o.remoteFailed("find", lessonID, err)
		return domain.Progress{}, false
	}
	if handle == nil {
		return domain.Progress{}, false
	}
	raw, err := o.remote.FetchContent(ctx, token, *handle)
	if err != nil {
		o.remoteFailed("fetch", lessonID, err)
		return domain.Progress{}, false
	}
	payload, err := DecodePayload(raw)
	if err != nil {
		o.log.Warn("progress file unreadable", zap.String("lesson_id", lessonID), zap.Error(err))
		return domain.Progress{}, false
	}
	rec, err := OpenPayload(payload, key)
	if err != nil {
		o.metrics.DecryptFailures.Inc()
		o.log.Warn("progress file not readable with current identity", zap.String("lesson_id", lessonID), zap.Error(err))
		return domain.Progress{}, false
	}
	return rec.Progress, true
}

// DeleteLesson removes a lesson everywhere. Remote errors are logged and
// swallowed; deleting an unknown lesson is a no-op.
func (o *Orchestrator) DeleteLesson(ctx context.Context, stub domain.Descriptor) error {
	uid, store, err := o.sessions.Current()
	if err != nil {
		return err
	}
	o.queue.Cancel(queueKey(uid, stub.ID))

	o.local.Lock()
	content, _ := loadContent(ctx, store, uid, stub.ID)
	o.local.Unlock()

	fileID := stub.DriveFileID
	if fileID == "" {
		fileID = content.DriveFileID
	}
	if token, ok := o.remoteToken(); ok {
		if fileID != "" {
			if err := o.remote.Delete(ctx, token, fileID); err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
				o.remoteFailed("delete", stub.ID, err)
			}
		}
		if o.opts.ProgressFiles {
			o.deleteProgressFile(ctx, token, stub.ID)
		}
	}

	o.local.Lock()
	defer o.local.Unlock()
	store.Remove(ctx, contentKey(uid, stub.ID))
	store.Remove(ctx, progressKey(uid, stub.ID))
	removeIndex(ctx, store, stub.ID)
	clearDirty(ctx, store, stub.ID)
	return nil
}

func (o *Orchestrator) deleteProgressFile(ctx context.Context, token, lessonID string) {
	handle, err := o.remote.FindFileByName(ctx, token, progressFileName(lessonID), o.opts.FolderID)
	if err != nil {
		o.remoteFailed("find", lessonID, err)
		return
	}
	if handle == nil {
		return
	}
	if err := o.remote.Delete(ctx, token, handle.ID); err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		o.remoteFailed("delete", lessonID, err)
	}
}

// ResetProgress forgets the review state of a lesson; content is kept.
func (o *Orchestrator) ResetProgress(ctx context.Context, lessonID string) error {
	uid, store, err := o.sessions.Current()
	if err != nil {
		return err
	}
	o.local.Lock()
	store.Remove(ctx, progressKey(uid, lessonID))
	index := readIndex(ctx, store)
	for i := range index {
		if index[i].ID == lessonID {
			index[i].LastSessionIndex = nil
			index[i].LastReviewed = nil
			index[i].NextReview = nil
		}
	}
	store.Set(ctx, indexKey, index)
	if o.remote != nil {
		markDirty(ctx, store, lessonID)
	}
	_, remoteOn := o.remoteToken()
	o.local.Unlock()

	if remoteOn {
		o.schedulePush(uid, lessonID)
	}
	return nil
}

// Flush sends every queued remote write now and returns their joined errors.
func (o *Orchestrator) Flush(ctx context.Context) error {
	return o.queue.Flush(ctx)
}

func (o *Orchestrator) schedulePush(uid, lessonID string) {
	o.queue.Schedule(queueKey(uid, lessonID), func(ctx context.Context) error {
		err := o.push(ctx, uid, lessonID)
		if err != nil {
			o.reportRemoteError(lessonID, err)
		}
		return err
	})
}

// push writes the latest local state of a lesson to the remote store.
func (o *Orchestrator) push(ctx context.Context, uid, lessonID string) error {
	token, ok := o.remoteToken()
	if !ok {
		return nil
	}

	o.local.Lock()
	cur, store, err := o.sessions.Current()
	if err != nil || cur != uid {
		o.local.Unlock()
		o.log.Debug("session changed, remote write dropped", zap.String("lesson_id", lessonID))
		return nil
	}
	content, hasContent := loadContent(ctx, store, uid, lessonID)
	progress, _ := loadProgress(ctx, store, uid, lessonID)
	o.local.Unlock()

	if !hasContent || len(content.Questions) == 0 {
		return nil
	}
	progress.ID = lessonID
	lesson := assemble(content, progress)

	key, err := o.key(uid)
	if err != nil {
		return err
	}
	body, err := seal(lesson, lesson.ID, lesson.DriveFileID, key)
	if err != nil {
		return err
	}
	doc := domain.Document{Name: lessonFileName(lessonID), Metadata: lesson.Descriptor(), Body: body}
	handle, err := o.remote.Save(ctx, token, doc, lesson.DriveFileID, o.opts.FolderID)
	if err != nil {
		return fmt.Errorf("save lesson %s: %w", lessonID, err)
	}

	if o.opts.ProgressFiles {
		if err := o.pushProgressFile(ctx, token, key, progress); err != nil {
			return err
		}
	}
	o.metrics.RemoteWrites.WithLabelValues("ok").Inc()

	o.local.Lock()
	defer o.local.Unlock()
	if !o.stillActive(uid) {
		return nil
	}
	// Reload: a local save may have landed while the write was in flight.
	latest, ok := loadContent(ctx, store, uid, lessonID)
	if !ok {
		return nil
	}
	latest.DriveFileID = handle.ID
	modified := handle.ModifiedTime
	latest.ModifiedTime = &modified
	store.Set(ctx, contentKey(uid, lessonID), latest)

	index := readIndex(ctx, store)
	for i := range index {
		if index[i].ID == lessonID {
			index[i].DriveFileID = handle.ID
			index[i].ModifiedTime = &modified
		}
	}
	store.Set(ctx, indexKey, index)
	if !latest.UpdatedAt.After(content.UpdatedAt) {
		clearDirty(ctx, store, lessonID)
	}
	return nil
}

func (o *Orchestrator) pushProgressFile(ctx context.Context, token string, key lessoncrypt.Key, progress progressRecord) error {
	name := progressFileName(progress.ID)
	existing, err := o.remote.FindFileByName(ctx, token, name, o.opts.FolderID)
	if err != nil {
		return fmt.Errorf("find progress file %s: %w", progress.ID, err)
	}
	existingID := ""
	if existing != nil {
		existingID = existing.ID
	}
	body, err := seal(progress, progress.ID, existingID, key)
	if err != nil {
		return err
	}
	if _, err := o.remote.Save(ctx, token, domain.Document{Name: name, Body: body}, existingID, o.opts.FolderID); err != nil {
		return fmt.Errorf("save progress file %s: %w", progress.ID, err)
	}
	return nil
}

func (o *Orchestrator) requeueDirty(ctx context.Context) {
	uid, store, err := o.sessions.Current()
	if err != nil {
		return
	}
	var dirty []string
	store.Get(ctx, pendingKey, &dirty)
	for _, id := range dirty {
		o.schedulePush(uid, id)
	}
	if len(dirty) > 0 {
		o.log.Info("requeued offline saves", zap.Int("lessons", len(dirty)))
	}
}

func (o *Orchestrator) stillActive(uid string) bool {
	cur, err := o.sessions.UserID()
	return err == nil && cur == uid
}

func (o *Orchestrator) remoteFailed(op, lessonID string, err error) {
	label := "error"
	if errors.Is(err, domain.ErrReauthNeeded) {
		label = "reauth"
		if o.opts.OnRemoteError != nil {
			o.opts.OnRemoteError(lessonID, err)
		}
	}
	o.log.Warn("remote call failed", zap.String("op", op), zap.String("lesson_id", lessonID),
		zap.String("class", label), zap.Error(err))
}

func (o *Orchestrator) reportRemoteError(lessonID string, err error) {
	label := "error"
	if errors.Is(err, domain.ErrReauthNeeded) {
		label = "reauth"
	}
	o.metrics.RemoteWrites.WithLabelValues(label).Inc()
	o.log.Warn("remote write failed", zap.String("lesson_id", lessonID), zap.String("class", label), zap.Error(err))
	if o.opts.OnRemoteError != nil {
		o.opts.OnRemoteError(lessonID, err)
	}
}

// splitLesson separates content from progress. Per-question LastRating values
// move into the ratings map so the content record holds no review state.
func splitLesson(l domain.Lesson) (domain.Content, domain.Progress) {
	content, progress := l.Content, l.Progress
	if content.Questions == nil {
		return content, progress
	}
	questions := make([]domain.Question, len(content.Questions))
	var ratings map[string]domain.Rating
	for i, q := range content.Questions {
		if q.LastRating != nil {
			if _, ok := progress.Ratings[q.ID]; !ok {
				if ratings == nil {
					ratings = make(map[string]domain.Rating, len(progress.Ratings)+1)
					for k, v := range progress.Ratings {
						ratings[k] = v
					}
				}
				ratings[q.ID] = *q.LastRating
			}
			q.LastRating = nil
		}
		questions[i] = q
	}
	content.Questions = questions
	if ratings != nil {
		progress.Ratings = ratings
	}
	return content, progress
}

func assemble(c contentRecord, p progressRecord) domain.Lesson {
	id := c.ID
	if id == "" {
		id = p.ID
	}
	return domain.Lesson{
		ID:           id,
		DriveFileID:  c.DriveFileID,
		ModifiedTime: c.ModifiedTime,
		Content:      c.Content,
		Progress:     p.Progress,
	}
}

// Records are keyed by the composite key inside the user store, so the full
// backend key is cic_user_<uid>_content_<uid>_<lessonId>.
func contentKey(uid, lessonID string) string {
	return "content_" + domain.CompositeKey(uid, lessonID)
}

func progressKey(uid, lessonID string) string {
	return "progress_" + domain.CompositeKey(uid, lessonID)
}

// queueKey names a deferred push in logs and flush errors without the raw uid.
func queueKey(uid, lessonID string) string {
	return logging.HashID(uid) + "/" + lessonID
}

func lessonFileName(lessonID string) string {
	return "lesson_" + lessonID + ".json"
}

func progressFileName(lessonID string) string {
	return "progress_" + lessonID + ".json"
}

func loadContent(ctx context.Context, store *localstore.NamespacedStore, uid, lessonID string) (contentRecord, bool) {
	var rec contentRecord
	ok := store.Get(ctx, contentKey(uid, lessonID), &rec)
	return rec, ok
}

func loadProgress(ctx context.Context, store *localstore.NamespacedStore, uid, lessonID string) (progressRecord, bool) {
	var rec progressRecord
	ok := store.Get(ctx, progressKey(uid, lessonID), &rec)
	return rec, ok
}

func readIndex(ctx context.Context, store *localstore.NamespacedStore) []domain.Descriptor {
	var index []domain.Descriptor
	store.Get(ctx, indexKey, &index)
	return index
}

func upsertIndex(ctx context.Context, store *localstore.NamespacedStore, d domain.Descriptor) {
	index := readIndex(ctx, store)
	for i := range index {
		if index[i].ID == d.ID {
			index[i] = d
			store.Set(ctx, indexKey, index)
			return
		}
	}
	store.Set(ctx, indexKey, append(index, d))
}

func removeIndex(ctx context.Context, store *localstore.NamespacedStore, lessonID string) {
	index := readIndex(ctx, store)
	out := index[:0]
	for _, d := range index {
		if d.ID != lessonID {
			out = append(out, d)
		}
	}
	switch {
	case len(out) == 0:
		store.Remove(ctx, indexKey)
	case len(out) != len(index):
		store.Set(ctx, indexKey, out)
	}
}

// mergeIndex overlays remote descriptors on the local index. Entries only
// known locally are appended; the session index never regresses.
func mergeIndex(local, remote []domain.Descriptor) []domain.Descriptor {
	byID := make(map[string]domain.Descriptor, len(local))
	for _, d := range local {
		byID[d.ID] = d
	}
	seen := make(map[string]bool, len(remote))
	out := make([]domain.Descriptor, 0, len(local)+len(remote))
	for _, r := range remote {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		l, ok := byID[r.ID]
		if !ok {
			out = append(out, r)
			continue
		}
		merged := l.Overlay(r)
		merged.LastSessionIndex = maxInt(l.LastSessionIndex, r.LastSessionIndex)
		merged.LastReviewed = laterTime(l.LastReviewed, r.LastReviewed)
		out = append(out, merged)
	}
	for _, l := range local {
		if !seen[l.ID] {
			out = append(out, l)
		}
	}
	return out
}

func markDirty(ctx context.Context, store *localstore.NamespacedStore, lessonID string) {
	var dirty []string
	store.Get(ctx, pendingKey, &dirty)
	for _, id := range dirty {
		if id == lessonID {
			return
		}
	}
	store.Set(ctx, pendingKey, append(dirty, lessonID))
}

func clearDirty(ctx context.Context, store *localstore.NamespacedStore, lessonID string) {
	var dirty []string
	if !store.Get(ctx, pendingKey, &dirty) {
		return
	}
	out := dirty[:0]
	for _, id := range dirty {
		if id != lessonID {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		store.Remove(ctx, pendingKey)
		return
	}
	store.Set(ctx, pendingKey, out)
}
