package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/tool"
)

const (
	defaultVoiceBaseURL = "https://api.elevenlabs.io"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"
	defaultVoiceModel   = "eleven_multilingual_v2"

	// maxSpokenChars 限制单次合成的文本长度，过长的朗读既贵又没人听完。
	maxSpokenChars = 2000
)

// VoiceConfig 配置语音合成客户端。
type VoiceConfig struct {
	BaseURL   string
	APIKey    string
	VoiceID   string
	OutputDir string
	Timeout   time.Duration
}

// VoiceClient 调用 ElevenLabs 风格的文本转语音接口，
// 把生成的音频写入本地文件。
type VoiceClient struct {
	baseURL    string
	apiKey     string
	voiceID    string
	outputDir  string
	httpClient *http.Client
}

// NewVoiceClient 构造语音客户端并套用默认值。
func NewVoiceClient(cfg VoiceConfig) *VoiceClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultVoiceBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = defaultVoiceID
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &VoiceClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		voiceID:    cfg.VoiceID,
		outputDir:  cfg.OutputDir,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Synthesize 合成一段语音并返回音频文件路径与字节数。
func (c *VoiceClient) Synthesize(ctx context.Context, text string) (string, int, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", 0, xerrors.New(xerrors.CodeInvalidArgument, "朗读文本不能为空")
	}
	if c.apiKey == "" {
		return "", 0, xerrors.New(xerrors.CodeInitializationFailure, "语音服务未配置 API key")
	}

	body, err := json.Marshal(map[string]string{
		"text":     trimmed,
		"model_id": defaultVoiceModel,
	})
	if err != nil {
		return "", 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码语音请求失败")
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, c.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, xerrors.Wrap(xerrors.CodeToolExecutionFailure, err, "构造语音请求失败")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, xerrors.Wrap(xerrors.CodeToolExecutionFailure, err, "语音服务调用失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, xerrors.New(xerrors.CodeToolExecutionFailure,
			fmt.Sprintf("语音服务返回状态 %d", resp.StatusCode))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", 0, xerrors.Wrap(xerrors.CodeToolExecutionFailure, err, "读取音频流失败")
	}
	if len(audio) == 0 {
		return "", 0, xerrors.New(xerrors.CodeToolExecutionFailure, "语音服务返回空音频")
	}

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return "", 0, xerrors.Wrap(xerrors.CodeToolExecutionFailure, err, "创建音频输出目录失败")
	}
	path := filepath.Join(c.outputDir, fmt.Sprintf("speech_%s.mp3", uuid.NewString()))
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", 0, xerrors.Wrap(xerrors.CodeToolExecutionFailure, err, "写入音频文件失败")
	}
	return path, len(audio), nil
}

// SpeakTool 把一段文本合成为语音文件，供需要口头播报的回合使用。
type SpeakTool struct {
	client *VoiceClient
}

var _ tool.Tool = (*SpeakTool)(nil)

func (t *SpeakTool) Name() string { return "speak_text" }

func (t *SpeakTool) Description() string {
	return "Convert a short text to spoken audio. Returns the path of the generated audio file."
}

func (t *SpeakTool) Schema() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"text": {"type": "string", "minLength": 1, "maxLength": %d}
		},
		"required": ["text"],
		"additionalProperties": false
	}`, maxSpokenChars))
}

func (t *SpeakTool) SideEffect() tool.SideEffect { return tool.SideEffectWritesExternal }

func (t *SpeakTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		Text string `json:"text"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	path, size, err := t.client.Synthesize(ctx, in.Text)
	if err != nil {
		return fail(err)
	}
	return tool.OkWithDetails(
		fmt.Sprintf("Generated spoken audio (%d bytes) at %s.", size, path),
		map[string]any{"audio_path": path},
	)
}
