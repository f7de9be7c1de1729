// Package correlator implements the event correlator (C5): it takes the
// chat-platform gateway's event stream (plus polling updates from the
// partner/official backends, normalized to the same shape) and resolves
// each event to the in-flight task it belongs to, then applies the
// resulting progress or terminal transition to the task store.
package correlator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"quel-drawcore/internal/lock"
	"quel-drawcore/internal/model"
	"quel-drawcore/internal/store"
)

// EventData is the normalized shape both the chat-platform gateway stream
// and the partner/official polling loops are adapted into before reaching
// the correlator.
type EventData struct {
	ID                    string
	AuthorID              string
	Type                  string
	ChannelID             string
	Content               string
	Attachments           []string
	Components            []model.Button
	InteractionMetadataID string
	Flags                 int
	ReferencedMessageID   string
	Nonce                 string
}

// InstanceIndex is the subset of internal/instance.Instance the correlator
// needs: the nonce/messageId lookup tables and the terminal-wake signal.
type InstanceIndex interface {
	ResolveNonce(nonce string) (string, bool)
	ResolveMessageID(messageID string) (string, bool)
	IndexMessageID(messageID, taskID string)
	RunningTasks() []*model.Task
	NotifyTerminal(taskID string)
}

// Lookup resolves the instance owning a channel id.
type Lookup func(channelID string) (InstanceIndex, bool)

// Correlator applies EventData records to the task store.
type Correlator struct {
	tasks  store.TaskStore
	locker lock.Locker
	lookup Lookup
	log    *zap.Logger
}

// New builds a Correlator.
func New(tasks store.TaskStore, locker lock.Locker, lookup Lookup, log *zap.Logger) *Correlator {
	return &Correlator{tasks: tasks, locker: locker, lookup: lookup, log: log}
}

var (
	stoppedMarker = "(Stopped)"
	waitingMarker = "(Waiting to start)"
	failedMarkers = []string{"❌", "Invalid", "banned", "failed"}
)

// rerollHeaders are the four header shapes spec.md §6 requires, tried in
// this exact order.
var rerollHeaders = []*regexp.Regexp{
	regexp.MustCompile(`\*\*(.*)\*\* - (.*?)<@\d+> \((.*?)\)`),
	regexp.MustCompile(`\*\*(.*)\*\* - <@\d+> \((.*?)\)`),
	regexp.MustCompile(`\*\*(.*)\*\* - Variations by <@\d+> \((.*?)\)`),
	regexp.MustCompile(`\*\*(.*)\*\* - Variations \(.*?\) by <@\d+> \((.*?)\)`),
}

var progressRe = regexp.MustCompile(`(\d{1,3})%`)

// HandleEvent resolves and applies one event. It is a no-op, by design, on
// a duplicate event id or on an event that cannot be correlated to any
// in-flight task.
func (c *Correlator) HandleEvent(ctx context.Context, ev EventData) error {
	seen, err := c.locker.SeenEvent(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		return nil
	}

	inst, ok := c.lookup(ev.ChannelID)
	if !ok {
		return nil
	}

	taskID, firstCorrelation := c.correlate(inst, ev)
	if taskID == "" {
		return nil
	}

	task, err := c.tasks.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status.IsTerminal() {
		return nil // idempotence: no further updates once terminal
	}

	if firstCorrelation {
		task.Properties.MessageID = ev.ID
		inst.IndexMessageID(ev.ID, taskID)
		if hash := parseMessageHash(ev.Attachments); hash != "" {
			task.Properties.MessageHash = hash
		}
		if prompt, ok := extractRerollPrompt(ev.Content); ok {
			task.PromptEn = prompt
			task.Properties.FinalPrompt = prompt
		}
		if task.Action == model.ActionSeed {
			task.Properties.SeedMessageID = ev.ID
		}
	}

	applyTransition(task, ev)

	if err := c.tasks.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("save task %s: %w", taskID, err)
	}
	if task.Status.IsTerminal() {
		inst.NotifyTerminal(taskID)
	}
	return nil
}

// correlate resolves ev to a task id using the priority chain from spec.md
// §4.5: nonce, then messageId, then referencedMessageId, then a
// content-regex match against in-flight prompts on the same instance.
// firstCorrelation is true only when the match came via nonce, i.e. this is
// the first event this task has ever received.
func (c *Correlator) correlate(inst InstanceIndex, ev EventData) (taskID string, firstCorrelation bool) {
	if ev.Nonce != "" {
		if id, ok := inst.ResolveNonce(ev.Nonce); ok {
			return id, true
		}
	}
	if id, ok := inst.ResolveMessageID(ev.ID); ok {
		return id, false
	}
	if ev.ReferencedMessageID != "" {
		if id, ok := inst.ResolveMessageID(ev.ReferencedMessageID); ok {
			return id, false
		}
	}
	if prompt, ok := extractRerollPrompt(ev.Content); ok {
		for _, t := range inst.RunningTasks() {
			if promptMatches(t.Prompt, prompt) {
				return t.ID, false
			}
		}
	}
	return "", false
}

func promptMatches(taskPrompt, eventPrompt string) bool {
	a := strings.TrimSpace(strings.ToLower(taskPrompt))
	b := strings.TrimSpace(strings.ToLower(eventPrompt))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// extractRerollPrompt tries the four header regexes in order and returns
// the captured prompt (first capture group) from whichever first matches.
func extractRerollPrompt(content string) (string, bool) {
	for _, re := range rerollHeaders {
		if m := re.FindStringSubmatch(content); m != nil {
			return m[1], true
		}
	}
	return "", false
}

var seedValueRe = regexp.MustCompile(`(?i)seed:\s*(\d+)`)

// applyTransition classifies the event content and mutates task in place.
func applyTransition(task *model.Task, ev EventData) {
	if task.Action == model.ActionSeed {
		applySeedTransition(task, ev)
		return
	}

	hasImage := len(ev.Attachments) > 0
	isStopped := strings.Contains(ev.Content, stoppedMarker) || strings.Contains(ev.Content, waitingMarker)

	if isFailureMarker(ev.Content) {
		task.Status = model.StatusFailure
		task.FailReason = extractFailReason(ev.Content)
		return
	}

	if hasImage && !isStopped {
		task.Status = model.StatusSuccess
		task.ImageURL = ev.Attachments[0]
		task.ImageURLs = ev.Attachments
		task.Buttons = ev.Components
		if task.Properties.InteractionMetadataID == "" {
			task.Properties.InteractionMetadataID = ev.InteractionMetadataID
		}
		return
	}

	task.Status = model.StatusInProgress
	if m := progressRe.FindStringSubmatch(ev.Content); m != nil {
		task.Progress = m[1] + "%"
	}
	if hasImage {
		task.ImageURL = ev.Attachments[0]
	}
	if len(ev.Components) > 0 {
		task.Buttons = ev.Components
	}
	if task.Properties.RemixModalMessageID == "" && ev.InteractionMetadataID != "" {
		task.Properties.RemixModalMessageID = ev.ID
		task.Properties.InteractionMetadataID = ev.InteractionMetadataID
	}
}

// applySeedTransition handles the SEED action's private-channel reply: the
// command's own echo just records seedMessageId (done by the caller on
// first correlation); a later reply carrying the numeric seed value
// resolves the task.
func applySeedTransition(task *model.Task, ev EventData) {
	if isFailureMarker(ev.Content) {
		task.Status = model.StatusFailure
		task.FailReason = extractFailReason(ev.Content)
		return
	}
	if m := seedValueRe.FindStringSubmatch(ev.Content); m != nil {
		task.Seed = m[1]
		task.Status = model.StatusSuccess
		return
	}
	task.Status = model.StatusInProgress
}

func isFailureMarker(content string) bool {
	for _, m := range failedMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}

func extractFailReason(content string) string {
	reason := strings.TrimSpace(content)
	if len(reason) > 200 {
		reason = reason[:200]
	}
	return reason
}

// parseMessageHash extracts the upstream image hash from the first
// attachment URL: the filename without its extension and without a
// trailing `_<index>` grid suffix.
func parseMessageHash(attachments []string) string {
	if len(attachments) == 0 {
		return ""
	}
	url := attachments[0]
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	i := strings.LastIndexByte(url, '/')
	name := url
	if i >= 0 {
		name = url[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndexByte(name, '_'); i >= 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			name = name[:i]
		}
	}
	return name
}
