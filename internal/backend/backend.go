// Package backend defines the command-send surface every upstream driver
// (chatbackend, officialbackend, partnerbackend) implements, so
// internal/instance can drive any backend family through one interface.
package backend

import "context"

// Code mirrors the handful of result shapes a command send can produce.
type Code int

const (
	CodeSuccess Code = iota
	CodeExisted
	CodeInQueue
	CodeFailure
)

// Result is what a command-send primitive returns to the owning instance's
// worker loop.
type Result struct {
	Code        Code
	Description string
	MessageID   string // upstream message id, when the backend returns one synchronously
}

// ImagineArgs carries the parameters of a /imagine-shaped command; other
// commands reuse the subset of fields that apply to them.
type ImagineArgs struct {
	ChannelID string
	GuildID   string
	Prompt    string
	Nonce     string
	BotName   string // "MJ" or "NIJI" style slash-command target
}

// ButtonArgs carries the parameters of a component/button interaction, used
// by upscale, variation, reroll, pan, remix, action, zoom, inpaint and the
// settings family of commands.
type ButtonArgs struct {
	ChannelID             string
	GuildID               string
	MessageID             string
	MessageFlags          int
	CustomID              string
	Nonce                 string
	InteractionMetadataID string
	Mask                  string // base64 mask, Inpaint only
	Prompt                string // additional text, Remix/Inpaint only
}

// UploadArgs carries the parameters of a describe-by-upload or send-image
// command.
type UploadArgs struct {
	ChannelID string
	Filename  string
	Data      []byte
	MimeType  string
}

// Commander is the full command-send surface spec.md §4.3 lists for C3.
// Every backend family implements all of it; commands the family doesn't
// support return a FAILURE result rather than a compile-time error. The
// orchestrator does not check the backend family before dispatching, so
// such calls reach the backend and fail there.
type Commander interface {
	Imagine(ctx context.Context, a ImagineArgs) (Result, error)
	Upscale(ctx context.Context, a ButtonArgs) (Result, error)
	Variation(ctx context.Context, a ButtonArgs) (Result, error)
	Reroll(ctx context.Context, a ButtonArgs) (Result, error)
	DescribeByLink(ctx context.Context, channelID, imageURL, nonce string) (Result, error)
	DescribeByUpload(ctx context.Context, a UploadArgs) (Result, error)
	Blend(ctx context.Context, channelID string, imageURLs []string, nonce string) (Result, error)
	Shorten(ctx context.Context, channelID, prompt, nonce string) (Result, error)
	Zoom(ctx context.Context, a ButtonArgs) (Result, error)
	Inpaint(ctx context.Context, a ButtonArgs) (Result, error)
	Pan(ctx context.Context, a ButtonArgs) (Result, error)
	Remix(ctx context.Context, a ButtonArgs) (Result, error)
	Action(ctx context.Context, a ButtonArgs) (Result, error)
	Setting(ctx context.Context, channelID, nonce string) (Result, error)
	Info(ctx context.Context, channelID, nonce string) (Result, error)
	SettingSelect(ctx context.Context, a ButtonArgs) (Result, error)
	SettingButton(ctx context.Context, a ButtonArgs) (Result, error)
	Seed(ctx context.Context, channelID, messageHash, nonce string) (Result, error)
	SeedMessages(ctx context.Context, channelID string) (Result, error)
	SendImage(ctx context.Context, a UploadArgs) (Result, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) (Result, error)
}
