// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package channel

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/Rigo85/libretorio/internal/audiobook"
	"github.com/Rigo85/libretorio/internal/books"
	"github.com/Rigo85/libretorio/internal/convert"
	"github.com/Rigo85/libretorio/internal/logging"
	"github.com/Rigo85/libretorio/internal/metrics"
	"github.com/Rigo85/libretorio/internal/openlibrary"
)

const (
	defaultListLimit = 50

	msgInvalidEvent      = "An error has occurred. Invalid event kind."
	msgInvalidSearchText = "An error has occurred. Invalid search text."
	msgGenericError      = "An error has occurred."
)

// conversionGateway is the conversion surface the dispatcher consumes.
type conversionGateway interface {
	Decompress(ctx context.Context, kind convert.Kind, filePath, contentID string) convert.Result
	MorePages(contentID string, index int) convert.Result
	ConvertToPDF(ctx context.Context, filePath, contentID string) convert.Result
}

// auditor records dispatched commands, fire-and-forget.
type auditor interface {
	Record(userID, action string, changes json.RawMessage)
}

// audioLister lists the tracks of an audiobook directory.
type audioLister func(ctx context.Context, dir string) ([]audiobook.Metadata, error)

// Dispatcher routes one inbound command frame to its handler and shapes
// the response envelope. Unknown events reply with a structured error;
// dispatch never panics a connection.
type Dispatcher struct {
	catalog  books.Catalog
	search   openlibrary.Searcher
	gateway  conversionGateway
	audio    audioLister
	audit    auditor
	handlers map[string]func(ctx context.Context, data json.RawMessage) *Response
}

// NewDispatcher wires the dispatcher to its collaborators.
func NewDispatcher(catalog books.Catalog, search openlibrary.Searcher, gateway conversionGateway, audit auditor) *Dispatcher {
	d := &Dispatcher{
		catalog: catalog,
		search:  search,
		gateway: gateway,
		audio:   audiobook.ListAudioFiles,
		audit:   audit,
	}
	d.handlers = map[string]func(ctx context.Context, data json.RawMessage) *Response{
		EventLs:           d.onList,
		EventSearch:       d.onSearch,
		EventSearchText:   d.onSearchText,
		EventUpdate:       d.onUpdate,
		EventDecompress:   d.onDecompress,
		EventConvertToPDF: d.onConvertToPDF,
		EventGetMorePages: d.onGetMorePages,
		EventGetAudioBook: d.onGetAudioBook,
		EventLogAction:    func(context.Context, json.RawMessage) *Response { return nil },
	}
	return d
}

// Dispatch handles one command attributed to userID. A nil response
// means the command produces no reply frame.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, msg *Message) *Response {
	d.audit.Record(userID, msg.Event, msg.Data)

	handler, ok := d.handlers[msg.Event]
	if !ok {
		metrics.CommandsDispatched.WithLabelValues("unknown", "error").Inc()
		return errorsResponse(msgInvalidEvent)
	}

	resp := handler(ctx, msg.Data)
	metrics.CommandsDispatched.WithLabelValues(msg.Event, outcomeOf(resp)).Inc()
	return resp
}

func outcomeOf(resp *Response) string {
	if resp != nil && resp.Event == EventErrors {
		return "error"
	}
	return "ok"
}

type listPayload struct {
	ParentHash string `json:"parentHash"`
	Offset     int    `json:"offset"`
	Limit      *int   `json:"limit"`
	CleanUp    bool   `json:"cleanUp"`
}

func (d *Dispatcher) onList(ctx context.Context, data json.RawMessage) *Response {
	var p listPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return errorsResponse(msgInvalidEvent)
		}
	}

	limit := defaultListLimit
	if p.Limit != nil {
		limit = *p.Limit
	}

	result, err := d.catalog.List(ctx, p.ParentHash, p.Offset, limit, p.CleanUp)
	if err != nil {
		logging.Error().Err(err).Str("parent_hash", p.ParentHash).Msg("catalog listing failed")
		return errorsResponse(msgGenericError)
	}
	return &Response{Event: EventList, Data: result}
}

type searchPayload struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

func (d *Dispatcher) onSearch(ctx context.Context, data json.RawMessage) *Response {
	var p searchPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return errorsResponse(msgInvalidEvent)
		}
	}

	docs, err := d.search.Search(ctx, p.Title, p.Author)
	if err != nil {
		logging.Error().Err(err).Str("title", p.Title).Str("author", p.Author).
			Msg("metadata search failed")
		docs = []openlibrary.Doc{}
	}
	return &Response{Event: EventSearchDetails, Data: docs}
}

type searchTextPayload struct {
	SearchText string `json:"searchText"`
	Offset     int    `json:"offset"`
	Limit      *int   `json:"limit"`
}

func (d *Dispatcher) onSearchText(ctx context.Context, data json.RawMessage) *Response {
	var p searchTextPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return errorsResponse(msgInvalidEvent)
		}
	}
	if p.SearchText == "" {
		return errorsResponse(msgInvalidSearchText)
	}

	limit := defaultListLimit
	if p.Limit != nil {
		limit = *p.Limit
	}

	result, err := d.catalog.SearchByText(ctx, p.SearchText, p.Offset, limit)
	if err != nil {
		logging.Error().Err(err).Str("text", p.SearchText).Msg("catalog search failed")
		return errorsResponse(msgGenericError)
	}
	return &Response{Event: EventList, Data: result}
}

func (d *Dispatcher) onUpdate(ctx context.Context, data json.RawMessage) *Response {
	var file books.File
	if err := json.Unmarshal(data, &file); err != nil {
		return errorsResponse(msgInvalidEvent)
	}

	ok, err := d.catalog.Update(ctx, &file)
	if err != nil {
		logging.Error().Err(err).Int64("file_id", file.ID).Msg("catalog update failed")
		ok = false
	}
	return &Response{Event: EventUpdate, Data: map[string]bool{"response": ok}}
}

type decompressPayload struct {
	FilePath string `json:"filePath"`
	FileKind string `json:"fileKind"`
	ID       string `json:"id"`
}

func (d *Dispatcher) onDecompress(ctx context.Context, data json.RawMessage) *Response {
	var p decompressPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return &Response{Event: EventDecompress, Data: convert.Result{
			Success: "ERROR", Error: msgGenericError,
		}}
	}

	kind := convert.KindFromHint(p.FileKind, p.FilePath)
	if kind == convert.KindUnknown {
		// Sniffing a nonexistent file also yields KindUnknown; a missing
		// source must report as such, not as an unrecognized format.
		if strings.EqualFold(p.FileKind, "file") && p.FilePath != "" {
			if _, err := os.Stat(p.FilePath); err != nil {
				return &Response{Event: EventDecompress, Data: convert.Result{
					Success: "ERROR", Error: fmt.Sprintf("The Comic/Manga file does not exist: %q", p.FilePath),
				}}
			}
		}
		return &Response{Event: EventDecompress, Data: convert.Result{
			Success: "ERROR", Error: "An error has occurred. Invalid file extension kind.",
		}}
	}

	return &Response{Event: EventDecompress, Data: d.gateway.Decompress(ctx, kind, p.FilePath, p.ID)}
}

type morePagesPayload struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}

func (d *Dispatcher) onGetMorePages(_ context.Context, data json.RawMessage) *Response {
	var p morePagesPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return &Response{Event: EventDecompress, Data: convert.Result{
			Success: "ERROR", Error: msgGenericError,
		}}
	}

	return &Response{Event: EventDecompress, Data: d.gateway.MorePages(p.ID, p.Index)}
}

type convertPayload struct {
	FilePath string `json:"filePath"`
	ID       string `json:"id"`
}

func (d *Dispatcher) onConvertToPDF(ctx context.Context, data json.RawMessage) *Response {
	var p convertPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return &Response{Event: EventConvertToPDF, Data: convert.Result{
			Success: "ERROR", Error: msgGenericError,
		}}
	}

	return &Response{Event: EventConvertToPDF, Data: d.gateway.ConvertToPDF(ctx, p.FilePath, p.ID)}
}

type audioBookPayload struct {
	FilePath string `json:"filePath"`
}

func (d *Dispatcher) onGetAudioBook(ctx context.Context, data json.RawMessage) *Response {
	var p audioBookPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errorsResponse(msgGenericError)
	}

	tracks, err := d.audio(ctx, p.FilePath)
	if err != nil {
		logging.Error().Err(err).Str("dir", p.FilePath).Msg("audiobook listing failed")
		return errorsResponse(msgGenericError)
	}
	return &Response{Event: EventGetAudioBook, Data: tracks}
}
