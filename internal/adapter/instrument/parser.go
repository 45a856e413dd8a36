package instrument

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"bytemomo/armada/internal/domain"
)

const (
	prefixStatus     = "INSTRUMENTATION_STATUS: "
	prefixStatusCode = "INSTRUMENTATION_STATUS_CODE: "
	prefixResult     = "INSTRUMENTATION_RESULT: "
	prefixCode       = "INSTRUMENTATION_CODE: "
	prefixFailed     = "INSTRUMENTATION_FAILED: "
	prefixAborted    = "INSTRUMENTATION_ABORTED: "
)

// am instrument -r status codes.
const (
	codeStart               = 1
	codeOK                  = 0
	codeFailure             = -2
	codeIgnored             = -3
	codeAssumptionFailure   = -4
	instrumentationComplete = -1
)

// Report is the parsed output of one raw instrumentation run.
type Report struct {
	Tests     []domain.TestCase
	Completed bool
	Code      int
	Message   string
}

// Failures counts the tests that fail the device.
func (r Report) Failures() int {
	n := 0
	for _, tc := range r.Tests {
		if tc.Failed() {
			n++
		}
	}
	return n
}

// Parse reads `am instrument -r` output. Values may span several lines;
// continuation lines are appended to the last key seen.
func Parse(r io.Reader) (Report, error) {
	var rep Report
	status := map[string]string{}
	result := map[string]string{}
	var current map[string]string
	var key string
	var pending *domain.TestCase

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, prefixStatusCode):
			code, _ := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, prefixStatusCode)))
			tc := domain.TestCase{Class: status["class"], Method: status["test"]}
			if code == codeStart {
				pending = &tc
			} else {
				tc.Status = testStatus(code)
				if tc.Failed() || tc.Status == domain.TestAssumptionFailure {
					tc.Trace = strings.TrimSpace(status["stack"])
				}
				if tc.Class != "" || tc.Method != "" {
					rep.Tests = append(rep.Tests, tc)
				}
				pending = nil
			}
			status = map[string]string{}
			current, key = nil, ""
		case strings.HasPrefix(line, prefixStatus):
			key = setPair(status, strings.TrimPrefix(line, prefixStatus))
			current = status
		case strings.HasPrefix(line, prefixResult):
			key = setPair(result, strings.TrimPrefix(line, prefixResult))
			current = result
		case strings.HasPrefix(line, prefixCode):
			rep.Code, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, prefixCode)))
			rep.Completed = rep.Code == instrumentationComplete
			current, key = nil, ""
		case strings.HasPrefix(line, prefixFailed):
			rep.Message = strings.TrimSpace(strings.TrimPrefix(line, prefixFailed))
			current, key = nil, ""
		case strings.HasPrefix(line, prefixAborted):
			rep.Message = strings.TrimSpace(strings.TrimPrefix(line, prefixAborted))
			current, key = nil, ""
		default:
			if current != nil && key != "" {
				current[key] += "\n" + line
			}
		}
	}
	if err := sc.Err(); err != nil {
		return rep, err
	}

	if pending != nil {
		pending.Status = domain.TestErrored
		pending.Trace = "test did not report a result"
		rep.Tests = append(rep.Tests, *pending)
	}
	if msg := strings.TrimSpace(result["shortMsg"]); msg != "" && rep.Message == "" {
		rep.Message = msg
	}
	// A crashed process still reports INSTRUMENTATION_CODE: -1 together with
	// a shortMsg.
	if rep.Completed && result["shortMsg"] != "" {
		rep.Completed = false
	}
	return rep, nil
}

func setPair(m map[string]string, kv string) string {
	k, v, _ := strings.Cut(kv, "=")
	m[k] = v
	return k
}

func testStatus(code int) domain.TestStatus {
	switch code {
	case codeOK:
		return domain.TestPassed
	case codeFailure:
		return domain.TestFailed
	case codeIgnored:
		return domain.TestIgnored
	case codeAssumptionFailure:
		return domain.TestAssumptionFailure
	default: // -1 and anything unknown
		return domain.TestErrored
	}
}
