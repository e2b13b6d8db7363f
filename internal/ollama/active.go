// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import "sync/atomic"

// ActiveModel holds the name of the currently selected model. Reads and
// writes are single atomic operations, so a reader sees either the old or
// the new name, never a mix.
type ActiveModel struct {
	name atomic.Pointer[string]
}

// NewActiveModel returns an ActiveModel initialised to name.
func NewActiveModel(name string) *ActiveModel {
	a := &ActiveModel{}
	a.name.Store(&name)
	return a
}

// Load returns the current model name, or "" if none is set.
func (a *ActiveModel) Load() string {
	if p := a.name.Load(); p != nil {
		return *p
	}
	return ""
}

// Store sets the model name and returns the previous one.
func (a *ActiveModel) Store(name string) (previous string) {
	if p := a.name.Swap(&name); p != nil {
		return *p
	}
	return ""
}
