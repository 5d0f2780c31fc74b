package xiangqidto

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type MovePayload struct {
	From       Point  `json:"from"`
	To         Point  `json:"to"`
	Annotation string `json:"annotation,omitempty"`
}

type RespondPayload struct {
	Accept bool `json:"accept"`
}

type StepPayload struct {
	ClientStep int `json:"clientStep"`
}

type JoinPayload struct {
	JoinType string `json:"joinType,omitempty"`
}

type KickPayload struct {
	TargetID string `json:"targetId"`
}
