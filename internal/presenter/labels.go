// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import "github.com/vorlif/spreak/localize"

// i18nVars maps the label keys usable in templates to their translatable messages.
var i18nVars = map[string]localize.MsgID{
	"latitude":  "Latitude",
	"longitude": "Longitude",
	"altitude":  "Altitude",
	"accuracy":  "Accuracy",
	"source":    "Source",
	"age":       "Fix age",
	"fixtime":   "Fix time",
	"format":    "Format",
	"address":   "Address",
}
