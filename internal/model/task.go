// Package model defines the entities shared by the task orchestration core:
// tasks, accounts, and the domain/banned keyword sets.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is the fixed, closed set of drawing job kinds a task can represent.
type Action string

const (
	ActionImagine    Action = "IMAGINE"
	ActionUpscale    Action = "UPSCALE"
	ActionVariation  Action = "VARIATION"
	ActionReroll     Action = "REROLL"
	ActionDescribe   Action = "DESCRIBE"
	ActionBlend      Action = "BLEND"
	ActionShorten    Action = "SHORTEN"
	ActionZoom       Action = "ZOOM"
	ActionPan        Action = "PAN"
	ActionInpaint    Action = "INPAINT"
	ActionEdit       Action = "EDIT"
	ActionRetexture  Action = "RETEXTURE"
	ActionVideo      Action = "VIDEO"
	ActionShow       Action = "SHOW"
	ActionButtonTask Action = "ACTION"
	ActionSeed       Action = "SEED"
)

// Status is the task state machine. Terminal statuses never change once set.
type Status string

const (
	StatusNotStart   Status = "NOT_START"
	StatusModal      Status = "MODAL"
	StatusSubmitted  Status = "SUBMITTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
	StatusCancel     Status = "CANCEL"
)

// IsTerminal reports whether s is one of the three terminal statuses.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCancel
}

// BotFamily is the logical drawing style, affecting remix toggles and which
// private channel receives /info and /show.
type BotFamily string

const (
	BotFamilyMJ   BotFamily = "MJ"
	BotFamilyNiji BotFamily = "NIJI"
)

// BackendFamily is one of the three upstream providers.
type BackendFamily string

const (
	BackendChat     BackendFamily = "CHAT"
	BackendPartner  BackendFamily = "PARTNER"
	BackendOfficial BackendFamily = "OFFICIAL"
)

// Mode is the scheduling speed lane. The empty mode (Mode("")) means "no
// preference" and is normalized by the account's default before scheduling.
type Mode string

const (
	ModeFast  Mode = "FAST"
	ModeRelax Mode = "RELAX"
	ModeTurbo Mode = "TURBO"
)

// Button is one actionable component attached to a task's result, e.g. a
// Discord-style component descriptor.
type Button struct {
	CustomID string `json:"customId"`
	Label    string `json:"label"`
	Style    int    `json:"style"`
}

// Properties is the narrowed, typed replacement for the source's free-form
// property bag. Anything not named here is rejected by the orchestrator.
type Properties struct {
	Nonce                  string `json:"nonce,omitempty"`
	MessageID              string `json:"messageId,omitempty"`
	MessageHash            string `json:"messageHash,omitempty"`
	Flags                  int    `json:"flags,omitempty"`
	CustomID               string `json:"customId,omitempty"`
	FinalPrompt            string `json:"finalPrompt,omitempty"`
	Remix                  bool   `json:"remix,omitempty"`
	RemixCustomID          string `json:"remixCustomId,omitempty"`
	RemixModalMessageID    string `json:"remixModalMessageId,omitempty"`
	RemixUCustomID         string `json:"remixUCustomId,omitempty"`
	InteractionMetadataID  string `json:"interactionMetadataId,omitempty"`
	DiscordInstanceID      string `json:"discordInstanceId,omitempty"`
	SeedMessageID          string `json:"seedMessageId,omitempty"`
}

// AccountFilter carries the caller's submission-time preferences.
type AccountFilter struct {
	Modes       []Mode   `json:"modes,omitempty"`
	InstanceIDs []string `json:"instanceIds,omitempty"`
	DomainIDs   []string `json:"domainIds,omitempty"`
	Speed       Mode     `json:"speed,omitempty"`
}

// Task is the unit of work tracked end to end by the orchestration core.
type Task struct {
	ID       string
	ParentID string

	Action        Action
	Status        Status
	BotFamily     BotFamily
	BackendFamily BackendFamily
	Mode          Mode

	Prompt      string
	PromptEn    string
	Description string
	ImageURL    string
	ImageURLs   []string
	Buttons     []Button

	Properties Properties

	SubmitTime time.Time
	StartTime  time.Time
	FinishTime time.Time

	FailReason string
	Progress   string
	Seed       string

	InstanceID    string
	SubInstanceID string

	AccountFilter AccountFilter
}

// NewTaskID returns a sortable, time-prefixed task id: a millisecond
// timestamp followed by random entropy, so ids sort chronologically while
// remaining collision-resistant across concurrent submitters.
func NewTaskID(now time.Time) string {
	return fmt.Sprintf("%d%s", now.UnixMilli(), uuid.NewString()[:8])
}

// NewNonce returns a fresh upstream-command nonce.
func NewNonce() string {
	return uuid.NewString()
}
