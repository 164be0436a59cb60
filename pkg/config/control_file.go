package config

import (
	"fmt"
	"os"
	"strings"
)

// ControlConfig is the single-line control file driving one deployment:
//
//	baseName modelFile exchange id execStrat startTime endTime [secondName]
//
// e.g. `ag_F_2_SFE ./models/model.ag2506.par.txt SHFE 16 MEANREV 0900 1500`
type ControlConfig struct {
	BaseName   string
	ModelFile  string
	Exchange   string
	ID         string
	ExecStrat  string
	StartTime  string // HHMM
	EndTime    string // HHMM
	SecondName string
}

// ParseControlFile reads the first non-comment line.
func ParseControlFile(path string) (*ControlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("controlFile: read %s: %w", path, err)
	}

	var line string
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimSpace(l)
		if l != "" && !strings.HasPrefix(l, "#") {
			line = l
			break
		}
	}
	if line == "" {
		return nil, fmt.Errorf("controlFile: %s is empty", path)
	}

	tokens := strings.Fields(line)
	if len(tokens) < 7 {
		return nil, fmt.Errorf("controlFile: %s: need at least 7 fields, got %d", path, len(tokens))
	}

	cc := &ControlConfig{
		BaseName:  tokens[0],
		ModelFile: tokens[1],
		Exchange:  tokens[2],
		ID:        tokens[3],
		ExecStrat: tokens[4],
		StartTime: tokens[5],
		EndTime:   tokens[6],
	}
	if len(tokens) > 7 {
		cc.SecondName = tokens[7]
	}
	return cc, nil
}

// SessionTime converts the control file's HHMM into HH:MM:SS.
func SessionTime(hhmm string) string {
	if len(hhmm) != 4 {
		return ""
	}
	return fmt.Sprintf("%s:%s:00", hhmm[:2], hhmm[2:])
}
