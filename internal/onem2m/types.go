package onem2m

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ResourceType is the oneM2M "ty" code.
type ResourceType int

const (
	TypeApplicationEntity ResourceType = 2
	TypeContainer         ResourceType = 3
	TypeContentInstance   ResourceType = 4
)

// String returns the short resource name used in logs.
func (t ResourceType) String() string {
	switch t {
	case TypeApplicationEntity:
		return "ae"
	case TypeContainer:
		return "cnt"
	case TypeContentInstance:
		return "cin"
	default:
		return "ty" + strconv.Itoa(int(t))
	}
}

// Operation is the oneM2M "op" code.
type Operation int

const (
	OpCreate   Operation = 1
	OpRetrieve Operation = 2
	OpUpdate   Operation = 3
	OpDelete   Operation = 4
)

// ReleaseVersion is sent as X-M2M-RVI / "rvi" unless configured otherwise.
const ReleaseVersion = "3"

// ResultCode is the oneM2M response status code ("rsc").
type ResultCode int

const (
	RSCOK       ResultCode = 2000
	RSCCreated  ResultCode = 2001
	RSCDeleted  ResultCode = 2002
	RSCUpdated  ResultCode = 2004
	RSCConflict ResultCode = 4105
)

// UnmarshalJSON accepts the code as a JSON number or a numeric string; some
// CSE builds quote it.
func (c *ResultCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*c = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid rsc %q: %w", s, err)
		}
		*c = ResultCode(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid rsc %s: %w", data, err)
	}
	*c = ResultCode(n)
	return nil
}

// ResultSet is the set of result codes an operation accepts as success.
type ResultSet []ResultCode

var (
	// AcceptIdempotentCreate treats "already exists" as success.
	AcceptIdempotentCreate = ResultSet{RSCCreated, RSCConflict}
	// AcceptDataPoint only accepts a fresh content instance.
	AcceptDataPoint = ResultSet{RSCCreated}
	// AcceptDefault is used when an operation does not supply its own set.
	AcceptDefault = ResultSet{RSCOK, RSCCreated, RSCUpdated}
)

// Contains reports whether code is accepted.
func (s ResultSet) Contains(code ResultCode) bool {
	for _, c := range s {
		if c == code {
			return true
		}
	}
	return false
}

// Path addresses a resource in the CSE tree by resource names.
type Path struct {
	CSE       string
	AE        string
	Container string
}

// String renders cse/ae/cnt, dropping empty trailing segments.
func (p Path) String() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.CSE, p.AE, p.Container} {
		if s == "" {
			break
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "/")
}

// Parent returns the path one level up.
func (p Path) Parent() Path {
	switch {
	case p.Container != "":
		return Path{CSE: p.CSE, AE: p.AE}
	case p.AE != "":
		return Path{CSE: p.CSE}
	default:
		return p
	}
}

// Request is the oneM2M request primitive carried over MQTT.
type Request struct {
	From      string       `json:"fr"`
	To        string       `json:"to"`
	Operation Operation    `json:"op"`
	RequestID string       `json:"rqi"`
	Type      ResourceType `json:"ty,omitempty"`
	Content   any          `json:"pc"`
	Version   string       `json:"rvi"`
}

// Response is the oneM2M response primitive carried over MQTT.
type Response struct {
	RequestID string          `json:"rqi"`
	Code      ResultCode      `json:"rsc"`
	Content   json.RawMessage `json:"pc,omitempty"`
	From      string          `json:"fr,omitempty"`
	To        string          `json:"to,omitempty"`
	Version   string          `json:"rvi,omitempty"`
}

// DecodeResponse parses a response envelope.
func DecodeResponse(data []byte) (*Response, error) {
	var rsp Response
	if err := Unmarshal(data, &rsp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &rsp, nil
}

// ApplicationEntity is the m2m:ae create body.
type ApplicationEntity struct {
	ResourceName     string   `json:"rn"`
	AppID            string   `json:"api"`
	RequestReachable bool     `json:"rr"`
	PointOfAccess    []string `json:"poa,omitempty"`
}

// Container is the m2m:cnt create body.
type Container struct {
	ResourceName string `json:"rn"`
	MaxInstances int    `json:"mni,omitempty"`
	MaxByteSize  int    `json:"mbs,omitempty"`
}

// ContentInstance is the m2m:cin create body.
type ContentInstance struct {
	Content string `json:"con"`
}

// AEBody wraps ae in its m2m:ae envelope.
func AEBody(ae ApplicationEntity) map[string]any {
	return map[string]any{"m2m:ae": ae}
}

// ContainerBody wraps cnt in its m2m:cnt envelope.
func ContainerBody(cnt Container) map[string]any {
	return map[string]any{"m2m:cnt": cnt}
}

// ContentBody wraps a value in its m2m:cin envelope.
func ContentBody(value string) map[string]any {
	return map[string]any{"m2m:cin": ContentInstance{Content: value}}
}

// LatestContent extracts m2m:cin.con from a retrieve response body.
func LatestContent(body []byte) (string, bool) {
	var wrapper struct {
		CIN *struct {
			Content json.RawMessage `json:"con"`
		} `json:"m2m:cin"`
	}
	if err := Unmarshal(body, &wrapper); err != nil || wrapper.CIN == nil {
		return "", false
	}
	raw := bytes.TrimSpace(wrapper.CIN.Content)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	// Numbers are compared by their literal text.
	return string(raw), len(raw) > 0
}

// AppID builds the "api" attribute for a sensor's AE.
func AppID(name string) string {
	return "N." + name
}
