package reducto

// Parse configuration sent with every document: first pages only, figure
// images returned, agentic enhancement for figures, tables and citations.

type agenticPrompt struct {
	Prompt string `json:"prompt"`
	Scope  string `json:"scope"`
}

type parseRequest struct {
	Input       string         `json:"input"`
	Enhance     map[string]any `json:"enhance"`
	Formatting  map[string]any `json:"formatting"`
	Retrieval   map[string]any `json:"retrieval"`
	Settings    map[string]any `json:"settings"`
	Spreadsheet map[string]any `json:"spreadsheet"`
}

func (c *client) buildParseRequest(fileID string) parseRequest {
	return parseRequest{
		Input: "reducto://" + fileID,
		Enhance: map[string]any{
			"agentic": []agenticPrompt{
				{Prompt: "Describe data trends and axes labels", Scope: "figure"},
				{Prompt: "Extract and preserve mathematical notation in LaTeX format, especially within table cells.", Scope: "table"},
				{Prompt: "Identify in-text citations (e.g., [1], [2] or Author et al.) and ensure they are mapped to the Bibliography/References section.", Scope: "text"},
			},
			"summarize_figures": true,
		},
		Formatting: map[string]any{
			"add_page_markers":    false,
			"include":             []string{},
			"merge_tables":        false,
			"table_output_format": "dynamic",
		},
		Retrieval: map[string]any{
			"chunking":      map[string]any{"chunk_mode": "page", "chunk_size": nil},
			"filter_blocks": []string{},
		},
		Settings: map[string]any{
			"extraction_mode":  "hybrid",
			"force_url_result": false,
			"ocr_system":       "standard",
			"page_range":       map[string]int{"start": c.cfg.PageStart, "end": c.cfg.PageEnd},
			"persist_results":  true,
			"return_images":    []string{"figure"},
			"return_ocr_data":  false,
			"timeout":          900,
		},
		Spreadsheet: map[string]any{
			"clustering":         "accurate",
			"exclude":            []string{},
			"include":            []string{},
			"split_large_tables": map[string]any{"enabled": true, "size": 50},
		},
	}
}
