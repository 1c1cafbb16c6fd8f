package audit

import (
	"encoding/json"
	"reflect"
)

// CalculateChanges compares the listed fields of before and after and
// returns the ones whose JSON encodings differ, or nil when none do.
func CalculateChanges(before, after map[string]interface{}, fields ...string) Changes {
	changes := Changes{}
	for _, f := range fields {
		b, a := before[f], after[f]
		if sameJSON(b, a) {
			continue
		}
		changes[f] = Change{Before: b, After: a}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

func sameJSON(a, b interface{}) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ja) == string(jb)
}
