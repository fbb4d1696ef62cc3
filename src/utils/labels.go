package utils

import (
	"regexp"
	"strings"
)

// -----------------------------------------------------------------------------
// Label patterns
// -----------------------------------------------------------------------------

var labelVarsRegex = regexp.MustCompile(`\$\{([^}]*)\}`)

// LabelVars are the substitutions available to a data key label pattern.
type LabelVars struct {
	DsName      string
	EntityName  string
	DeviceName  string
	AliasName   string
	EntityLabel string
}

// CreateLabelFromPattern substitutes ${dsName}, ${entityName}, ${deviceName},
// ${aliasName} and ${entityLabel} in a label pattern. Unknown variables are
// left untouched.
func CreateLabelFromPattern(pattern string, vars LabelVars) string {
	label := pattern
	for _, match := range labelVarsRegex.FindAllStringSubmatch(pattern, -1) {
		variable := match[0]
		var value string
		switch match[1] {
		case "dsName":
			value = vars.DsName
		case "entityName":
			value = vars.EntityName
		case "deviceName":
			value = vars.DeviceName
		case "aliasName":
			value = vars.AliasName
		case "entityLabel":
			value = vars.EntityLabel
		default:
			continue
		}
		label = strings.ReplaceAll(label, variable, value)
	}
	return label
}
