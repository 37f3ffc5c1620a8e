package speech

import (
	"errors"
	"strings"

	speechmodel "github.com/NicolasHurtado/Voice-gpt-agent/internal/model/speech"
)

var errMissingCredentials = errors.New("volcengine speech requires SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")

// resolveCredentials 返回去除空白后的 AppID 与 AccessToken。
func resolveCredentials(cfg speechmodel.VolcengineConfig) (string, string, error) {
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if appID == "" || token == "" {
		return "", "", errMissingCredentials
	}
	return appID, token, nil
}
