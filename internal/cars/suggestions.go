package cars

import "github.com/angelmondragon/carline-backend/pkg/enums"

// Suggestion is UI guidance for the next move. It is never enforced.
type Suggestion struct {
	Current   enums.CarStatus   `json:"current"`
	Primary   *enums.CarStatus  `json:"primary"`
	Secondary []enums.CarStatus `json:"secondary"`
}

// SuggestedTransitions proposes the next stage as primary, and the previous
// stage (a correction) followed by the stage after next (a skip) as
// secondary. Stages that do not exist are omitted.
func SuggestedTransitions(current enums.CarStatus) Suggestion {
	s := Suggestion{Current: current, Secondary: []enums.CarStatus{}}
	if !current.IsValid() {
		return s
	}

	next, hasNext := current.Next()
	if hasNext {
		s.Primary = &next
	}
	if prev, ok := current.Previous(); ok {
		s.Secondary = append(s.Secondary, prev)
	}
	if hasNext {
		if skip, ok := next.Next(); ok {
			s.Secondary = append(s.Secondary, skip)
		}
	}
	return s
}
