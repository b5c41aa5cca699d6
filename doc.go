// Package themis is a validated, observable settings store for desktop
// applications whose preferences live behind a privileged platform process.
//
// # Sections
//
// Settings are partitioned into a fixed set of sections (window, chat,
// theme, expressions, display). Each section is loaded, validated, saved and
// reported on independently: a failed load of "chat" falls back to the chat
// defaults and leaves "window" untouched.
//
// # The Platform Bridge
//
// The store never persists anything itself. Every section is split into a
// handful of keys that are read and written through a Bridge:
//
//	type Bridge interface {
//		Get(ctx context.Context, key string) (any, error)
//		Set(ctx context.Context, key string, value any) (SetResult, error)
//	}
//
// Three implementations ship with the package: MemoryBridge for tests and
// previews, FileBridge for a JSON, YAML or TOML document on disk, and the
// HTTP client in providers/httpbridge for a bridge in another process.
//
// # Quick Start
//
//	bridge, err := themis.NewFileBridge("settings.yaml", themis.FormatUnknown, themis.FileBridgeOptions{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	store := themis.New(*themis.DefaultConfig(), bridge)
//	defer store.Close()
//
//	chat := themis.NewAccessor[themis.ChatSettings](ctx, store)
//	data, _ := chat.Data()
//	data.MascotName = "Aria"
//	if err := chat.UpdateSettings(ctx, data); err != nil {
//		for _, v := range themis.ValidationErrorsOf(err) {
//			fmt.Println(v.Field, v.Message)
//		}
//	}
//
// # Validation
//
// Every write goes through Validate first. Rules never short-circuit: all
// violations are reported, each with the JSON path of its field. Rules that
// relate fields to each other are compiled expr programs.
//
// # Lifecycles and Forms
//
// A Lifecycle owns the timers, intervals and listeners a component creates
// and releases them exactly once on Dispose. A Form keeps an editable draft
// of a section, validates as the user types and can auto-save after a quiet
// period through a single rescheduled task.
//
// # Diagnostics
//
// The OperationTracker times every load and update, keeps per-section
// health scores and feeds a bounded error history. Significant events are
// written to an audit trail backed by SQLite, or JSONL when the output file
// ends in .jsonl. GetDebugInfo bundles all of it.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package themis
