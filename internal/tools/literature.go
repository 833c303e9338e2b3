package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/tool"
)

const defaultPubMedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMedClient 封装 NCBI E-utilities 的检索与摘要接口。
type PubMedClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// PubMedConfig 描述 PubMed 客户端配置。APIKey 可选，用于提升限流额度。
type PubMedConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewPubMedClient 创建 PubMed 客户端。
func NewPubMedClient(cfg PubMedConfig) *PubMedClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultPubMedBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &PubMedClient{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
	}
}

// Paper 是一条文献检索结果。
type Paper struct {
	PMID    string `json:"pmid"`
	Title   string `json:"title"`
	Journal string `json:"journal"`
	PubDate string `json:"pub_date"`
	DOI     string `json:"doi,omitempty"`
	URL     string `json:"url"`
}

// Search 先 esearch 拿到 PMID 列表，再 esummary 补全题录信息。
func (c *PubMedClient) Search(ctx context.Context, query string, limit int) ([]Paper, error) {
	if strings.TrimSpace(query) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "检索词不能为空")
	}
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	ids, err := c.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return c.summaries(ctx, ids)
}

func (c *PubMedClient) search(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmode", "json")
	params.Set("retmax", fmt.Sprintf("%d", limit))
	params.Set("sort", "relevance")
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	var decoded struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := c.get(ctx, "/esearch.fcgi", params, &decoded); err != nil {
		return nil, err
	}
	return decoded.ESearchResult.IDList, nil
}

func (c *PubMedClient) summaries(ctx context.Context, ids []string) ([]Paper, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "json")
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	var decoded struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := c.get(ctx, "/esummary.fcgi", params, &decoded); err != nil {
		return nil, err
	}

	papers := make([]Paper, 0, len(ids))
	for _, id := range ids {
		raw, ok := decoded.Result[id]
		if !ok {
			continue
		}
		var entry struct {
			Title       string `json:"title"`
			FullJournal string `json:"fulljournalname"`
			PubDate     string `json:"pubdate"`
			ArticleIDs  []struct {
				IDType string `json:"idtype"`
				Value  string `json:"value"`
			} `json:"articleids"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		paper := Paper{
			PMID:    id,
			Title:   entry.Title,
			Journal: entry.FullJournal,
			PubDate: entry.PubDate,
			URL:     "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
		}
		for _, aid := range entry.ArticleIDs {
			if aid.IDType == "doi" {
				paper.DOI = aid.Value
			}
		}
		papers = append(papers, paper)
	}
	return papers, nil
}

func (c *PubMedClient) get(ctx context.Context, path string, params url.Values, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeToolExecutionFailure, err, "构造 PubMed 请求失败")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeToolExecutionFailure, err, "请求 PubMed 失败")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeToolExecutionFailure, err, "读取 PubMed 响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		return xerrors.New(xerrors.CodeToolExecutionFailure,
			fmt.Sprintf("PubMed 返回状态码 %d", resp.StatusCode))
	}
	if err := json.Unmarshal(body, target); err != nil {
		return xerrors.Wrap(xerrors.CodeToolExecutionFailure, err, "解析 PubMed 响应失败")
	}
	return nil
}

// PubMedSearchTool 在 PubMed 上检索文献。
type PubMedSearchTool struct {
	client *PubMedClient
}

var _ tool.Tool = (*PubMedSearchTool)(nil)

func (t *PubMedSearchTool) Name() string { return "search_pubmed" }

func (t *PubMedSearchTool) Description() string {
	return "Search PubMed for scientific publications. Returns title, journal, publication date, " +
		"DOI and a link for each match."
}

func (t *PubMedSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "minLength": 1},
			"max_results": {"type": "integer", "minimum": 1, "maximum": 20}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}

func (t *PubMedSearchTool) SideEffect() tool.SideEffect { return tool.SideEffectReadsExternal }

func (t *PubMedSearchTool) Execute(ctx context.Context, params json.RawMessage) tool.Result {
	var in struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := decodeParams(params, &in); err != nil {
		return fail(err)
	}

	client := t.client
	if client == nil {
		client = NewPubMedClient(PubMedConfig{})
	}
	papers, err := client.Search(ctx, in.Query, in.MaxResults)
	if err != nil {
		return fail(err)
	}
	if len(papers) == 0 {
		return tool.Ok(fmt.Sprintf("No PubMed results for %q.", in.Query))
	}
	return tool.Ok(renderJSON(fmt.Sprintf("Found %d paper(s) for %q:", len(papers), in.Query), papers))
}
