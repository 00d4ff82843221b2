package controller

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/soniah/evaler"
)

var (
	bracketRe    = regexp.MustCompile(`\[[^\[\]]*\]`)
	identifierRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

// translate resolves [expression] placeholders in a G-code line against
// the merged variable context. A bracket whose expression fails to
// evaluate is passed through unchanged so the firmware reports the error.
func (c *Controller) translate(line string, context map[string]interface{}) string {
	if !strings.Contains(line, "[") {
		return line
	}
	vars := c.expressionVars(context)

	return bracketRe.ReplaceAllStringFunc(line, func(bracket string) string {
		expr := bracket[1 : len(bracket)-1]

		substituted := identifierRe.ReplaceAllStringFunc(expr, func(name string) string {
			if v, ok := vars[strings.ToLower(name)]; ok {
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
			return name
		})

		rat, err := evaler.Eval(substituted)
		if err != nil {
			c.log.Warn("expression left untranslated", "expression", bracket, "error", err)
			return bracket
		}
		return strconv.FormatFloat(evaler.BigratToFloat(rat), 'f', -1, 64)
	})
}

// expressionVars merges, in increasing precedence: the zero defaults for
// the program bounds, the caller-supplied context, and the live work
// position. posx..posc always reflect the machine, whatever the caller
// passed.
func (c *Controller) expressionVars(context map[string]interface{}) map[string]float64 {
	vars := map[string]float64{
		"xmin": 0, "xmax": 0,
		"ymin": 0, "ymax": 0,
		"zmin": 0, "zmax": 0,
	}
	for k, v := range context {
		if f, ok := contextFloat(v); ok {
			vars[strings.ToLower(k)] = f
		}
	}

	wpos := c.parser.State().WPos
	vars["posx"] = wpos.X
	vars["posy"] = wpos.Y
	vars["posz"] = wpos.Z
	vars["posa"] = wpos.A
	vars["posb"] = wpos.B
	vars["posc"] = wpos.C
	return vars
}

func contextFloat(v interface{}) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	case string:
		parsed, err := strconv.ParseFloat(f, 64)
		return parsed, err == nil
	}
	return 0, false
}
