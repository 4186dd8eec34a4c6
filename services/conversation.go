package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ayeremenko/visa-tracker/models"
	"github.com/sirupsen/logrus"
)

// IncomingMessage is a transport-independent inbound text message.
type IncomingMessage struct {
	UserID    int64
	ChatID    int64
	MessageID int
	Text      string
}

// IncomingCallback is a transport-independent inline-keyboard press.
type IncomingCallback struct {
	UserID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// stateKind enumerates the closed set of conversation states. Adding a state
// means extending the switches in HandleMessage; there is no stringly-typed
// scene dispatch.
type stateKind int

const (
	stateAwaitingReferenceNumber stateKind = iota + 1
	stateAwaitingDateOfBirth
	stateAwaitingLabel
	stateLoading
)

// conversationState holds one user's in-flight input collection. An absent
// map entry means Idle. Transient by design: lost on restart, the user
// simply restarts the flow.
type conversationState struct {
	kind             stateKind
	referenceNumber  string
	dateOfBirth      time.Time
	pendingMessageID *int
}

// Conversation drives the per-user multi-step input flow. All state
// transitions for one user happen under that user's lock, which bounds the
// interleaving window of concurrent events to a single key; events for
// different users never contend.
type Conversation struct {
	registry      *Registry
	statusService *StatusService
	notifier      *Notifier
	maxTracked    int

	states sync.Map // int64 -> *conversationState, guarded by per-user locks
	locks  map[int64]*sync.Mutex
	mutex  sync.Mutex
}

// NewConversation creates the state machine over its collaborators.
func NewConversation(registry *Registry, statusService *StatusService, notifier *Notifier, maxTracked int) *Conversation {
	return &Conversation{
		registry:      registry,
		statusService: statusService,
		notifier:      notifier,
		maxTracked:    maxTracked,
		locks:         make(map[int64]*sync.Mutex),
	}
}

func (c *Conversation) lockFor(userID int64) *sync.Mutex {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	lock, exists := c.locks[userID]
	if !exists {
		lock = &sync.Mutex{}
		c.locks[userID] = lock
	}
	return lock
}

func (c *Conversation) stateFor(userID int64) *conversationState {
	if value, exists := c.states.Load(userID); exists {
		return value.(*conversationState)
	}
	return nil
}

// IsLoading reports whether a user has a fetch in flight. The sweep skips
// such users' items to avoid racing a manual lookup.
func (c *Conversation) IsLoading(userID int64) bool {
	lock := c.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	state := c.stateFor(userID)
	return state != nil && state.kind == stateLoading
}

// HandleMessage processes one inbound text message for its sender.
func (c *Conversation) HandleMessage(ctx context.Context, msg IncomingMessage) {
	lock := c.lockFor(msg.UserID)
	lock.Lock()
	defer lock.Unlock()

	state := c.stateFor(msg.UserID)
	if state == nil {
		c.sendScene(ctx, msg.ChatID, mainMenuScene(c.registry.ListFor(msg.UserID)))
		return
	}

	switch state.kind {
	case stateAwaitingReferenceNumber:
		c.handleReferenceNumberInput(ctx, msg)
	case stateAwaitingDateOfBirth:
		c.handleDateOfBirthInput(ctx, msg, state)
	case stateAwaitingLabel:
		c.handleLabelInput(ctx, msg, state)
	case stateLoading:
		// Re-entrancy guard: swallow the message, but detach the pending
		// message id so the eventual result arrives as a fresh message
		// instead of being edited into a now-stale one.
		state.pendingMessageID = nil
	}
}

func (c *Conversation) handleReferenceNumberInput(ctx context.Context, msg IncomingMessage) {
	input := strings.TrimSpace(msg.Text)
	if !models.ValidReferenceNumber(input) {
		c.sendScene(ctx, msg.ChatID, sceneIncorrectReferenceNumber)
		return
	}

	// Dedup check: a reference the user already tracks short-circuits
	// straight to its action menu instead of re-asking for a birth date.
	if app, tracked := c.registry.Find(msg.UserID, input); tracked {
		c.states.Delete(msg.UserID)
		c.sendScene(ctx, msg.ChatID, applicationMenuScene(app))
		return
	}

	c.states.Store(msg.UserID, &conversationState{
		kind:            stateAwaitingDateOfBirth,
		referenceNumber: input,
	})
	c.sendScene(ctx, msg.ChatID, sceneInputDateOfBirth)
}

func (c *Conversation) handleDateOfBirthInput(ctx context.Context, msg IncomingMessage, state *conversationState) {
	dateOfBirth, valid := models.ParseDateOfBirth(strings.TrimSpace(msg.Text))
	if !valid {
		c.sendScene(ctx, msg.ChatID, sceneIncorrectDateOfBirth)
		return
	}

	c.states.Store(msg.UserID, &conversationState{
		kind:            stateAwaitingLabel,
		referenceNumber: state.referenceNumber,
		dateOfBirth:     dateOfBirth,
	})
	c.sendScene(ctx, msg.ChatID, sceneInputLabel)
}

func (c *Conversation) handleLabelInput(ctx context.Context, msg IncomingMessage, state *conversationState) {
	label := models.SanitizeLabel(msg.Text)
	if !models.ValidLabel(label) {
		c.sendScene(ctx, msg.ChatID, sceneIncorrectLabel)
		return
	}

	loading := &conversationState{
		kind:            stateLoading,
		referenceNumber: state.referenceNumber,
		dateOfBirth:     state.dateOfBirth,
	}
	c.states.Store(msg.UserID, loading)
	loading.pendingMessageID = c.notifier.Send(ctx, msg.ChatID, sceneFetching.text, nil)

	go c.completeFetch(msg.UserID, msg.ChatID, state.referenceNumber, state.dateOfBirth, label, true)
}

// HandleCallback processes one inline-keyboard press for its sender.
// The transport acknowledges the callback before this is called.
func (c *Conversation) HandleCallback(ctx context.Context, cb IncomingCallback) {
	lock := c.lockFor(cb.UserID)
	lock.Lock()
	defer lock.Unlock()

	if state := c.stateFor(cb.UserID); state != nil && state.kind == stateLoading {
		state.pendingMessageID = nil
		return
	}

	messageID := cb.MessageID
	switch {
	case cb.Data == callbackMainMenu:
		c.states.Delete(cb.UserID)
		c.editScene(ctx, cb.ChatID, &messageID, mainMenuScene(c.registry.ListFor(cb.UserID)))

	case cb.Data == callbackAddTracking:
		c.states.Store(cb.UserID, &conversationState{kind: stateAwaitingReferenceNumber})
		c.editScene(ctx, cb.ChatID, &messageID, sceneInputReferenceNumber)

	case cb.Data == callbackAbout:
		c.states.Delete(cb.UserID)
		c.editScene(ctx, cb.ChatID, &messageID, sceneAbout)

	case strings.HasPrefix(cb.Data, callbackAppPrefix):
		reference := strings.TrimPrefix(cb.Data, callbackAppPrefix)
		if app, tracked := c.registry.Find(cb.UserID, reference); tracked {
			c.editScene(ctx, cb.ChatID, &messageID, applicationMenuScene(app))
		} else {
			c.editScene(ctx, cb.ChatID, &messageID, mainMenuScene(c.registry.ListFor(cb.UserID)))
		}

	case strings.HasPrefix(cb.Data, callbackCheckPrefix):
		c.startTrackedCheck(ctx, cb, strings.TrimPrefix(cb.Data, callbackCheckPrefix))

	case strings.HasPrefix(cb.Data, callbackDeletePrefix):
		reference := strings.TrimPrefix(cb.Data, callbackDeletePrefix)
		c.registry.Remove(cb.UserID, reference)
		logrus.WithFields(logrus.Fields{
			"component":        "Conversation",
			"user_id":          cb.UserID,
			"reference_number": reference,
		}).Info("Tracked application deleted by user")
		c.editScene(ctx, cb.ChatID, &messageID, mainMenuScene(c.registry.ListFor(cb.UserID)))
	}
}

// startTrackedCheck runs a manual status check for an already tracked
// application; the stored date of birth is reused, no upsert afterwards.
func (c *Conversation) startTrackedCheck(ctx context.Context, cb IncomingCallback, reference string) {
	app, tracked := c.registry.Find(cb.UserID, reference)
	if !tracked {
		messageID := cb.MessageID
		c.editScene(ctx, cb.ChatID, &messageID, mainMenuScene(c.registry.ListFor(cb.UserID)))
		return
	}

	loading := &conversationState{
		kind:            stateLoading,
		referenceNumber: app.ReferenceNumber,
		dateOfBirth:     app.DateOfBirth,
	}
	c.states.Store(cb.UserID, loading)
	messageID := cb.MessageID
	loading.pendingMessageID = c.notifier.SendOrEdit(ctx, cb.ChatID, &messageID, sceneFetching.text, nil)

	go c.completeFetch(cb.UserID, cb.ChatID, app.ReferenceNumber, app.DateOfBirth, app.Label, false)
}

// completeFetch runs the shared fetch path off the event loop, optionally
// registers the application, and delivers the result. If the user's state is
// no longer Loading by delivery time the result is dropped, matching the
// swallow semantics of the Loading guard.
func (c *Conversation) completeFetch(userID, chatID int64, referenceNumber string, dateOfBirth time.Time, label string, register bool) {
	ctx := context.Background()
	result := c.statusService.Fetch(ctx, userID, referenceNumber, dateOfBirth, models.StatusCheckSourceManual)
	text := result.Text

	if register && (result.Outcome == OutcomeFetched || result.Outcome == OutcomeCached) {
		err := c.registry.Upsert(models.TrackedApplication{
			OwnerID:         userID,
			ReferenceNumber: referenceNumber,
			DateOfBirth:     dateOfBirth,
			Label:           label,
			AddedAt:         time.Now(),
		})
		switch err {
		case nil:
			logrus.WithFields(logrus.Fields{
				"component":        "Conversation",
				"user_id":          userID,
				"reference_number": referenceNumber,
			}).Info("Tracked application registered")
		case ErrLimitReached:
			text = limitReachedText(c.maxTracked)
		case ErrAlreadyTracked:
			// The dedup check normally prevents this; a race with another
			// device is harmless, the existing entry wins.
			logrus.WithFields(logrus.Fields{
				"component": "Conversation",
				"user_id":   userID,
			}).Debug("Upsert raced an existing entry")
		}
	}

	lock := c.lockFor(userID)
	lock.Lock()
	state := c.stateFor(userID)
	if state == nil || state.kind != stateLoading {
		lock.Unlock()
		return
	}
	pendingMessageID := state.pendingMessageID
	c.states.Delete(userID)
	lock.Unlock()

	c.notifier.SendOrEdit(ctx, chatID, pendingMessageID, text, resultKeyboard())
}

func (c *Conversation) sendScene(ctx context.Context, chatID int64, s scene) {
	c.notifier.Send(ctx, chatID, s.text, s.keyboard)
}

func (c *Conversation) editScene(ctx context.Context, chatID int64, messageID *int, s scene) {
	c.notifier.SendOrEdit(ctx, chatID, messageID, s.text, s.keyboard)
}
