package qwen

import (
	"context"
	"fmt"

	"studio/internal/generation"
)

// Editor adapts the client to the preparation pipeline's remote steps.
// Pipeline steps are serial, so they always use the provider's first
// credential.
type Editor struct {
	client *Client
	creds  generation.CredentialSource
}

func NewEditor(client *Client, creds generation.CredentialSource) *Editor {
	return &Editor{client: client, creds: creds}
}

var editInstructions = map[string]string{
	"background-removal": "Remove the background completely. Keep the subject fully intact and place it on a plain pure white background. Do not alter the subject itself.",
	"face-enhance":       "Enhance facial detail and skin texture naturally. Fix soft focus and compression artifacts on the face. Do not change the person's identity, expression or pose.",
}

// Edit runs one remote transformation and returns the produced bytes.
func (e *Editor) Edit(ctx context.Context, data []byte, mime string, kind string) ([]byte, string, error) {
	instruction, ok := editInstructions[kind]
	if !ok {
		return nil, "", fmt.Errorf("qwen: unsupported edit kind %q", kind)
	}
	cred, err := e.creds.Acquire(ctx, "", providerName, 0)
	if err != nil {
		return nil, "", err
	}
	artifact, err := e.client.Generate(ctx, generation.Request{
		Prompt:     instruction,
		SourceData: data,
		SourceMIME: mime,
		Secret:     cred.Secret,
	})
	if err != nil {
		return nil, "", err
	}
	return artifact.Data, artifact.MIME, nil
}
