// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forwarder

import "github.com/insplane/insfleetd/internal/inserr"

var (
	errUnsupportedFamily = inserr.New(inserr.KindValidation, "forwarder: only IPv4 destinations are supported")
	errRuleNotFound       = inserr.New(inserr.KindInternal, "forwarder: inserted rule not found after flush")
)
