package model

// Session identifies the local participant. It scopes every query and
// subscription to one crew.
type Session struct {
	CrewID         string `json:"crew_id" yaml:"crew_id"`
	CrewName       string `json:"crew_name" yaml:"crew_name"`
	InviteCode     string `json:"invite_code" yaml:"invite_code"`
	MemberID       string `json:"member_id" yaml:"member_id"`
	MemberName     string `json:"member_name" yaml:"member_name"`
	MemberColor    string `json:"member_color" yaml:"member_color"`
	DeviceUniqueID string `json:"device_unique_id" yaml:"device_unique_id"`
	DeviceID       string `json:"device_id" yaml:"device_id"`
}

// Valid reports whether the session carries the identity the tracker needs.
func (s Session) Valid() bool {
	return s.CrewID != "" && s.MemberID != "" && s.DeviceID != ""
}
