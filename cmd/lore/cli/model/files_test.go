package model

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func toolUseMessage(index int, name, inputJSON string) Message {
	return Message{
		ID:        DeriveUUID(fmt.Sprintf("msg_%d", index)),
		SessionID: DeriveUUID("ses_files"),
		Index:     index,
		Role:      RoleAssistant,
		Content: BlockContent([]ContentBlock{
			ToolUseBlock(fmt.Sprintf("tu_%d", index), name, json.RawMessage(inputJSON)),
		}),
	}
}

func TestExtractSessionFilesReadTool(t *testing.T) {
	msgs := []Message{
		toolUseMessage(0, "Read", `{"file_path":"/home/user/project/src/main.go"}`),
	}
	files := ExtractSessionFiles(msgs, "/home/user/project")
	assert.Equal(t, []string{"src/main.go"}, files)
}

func TestExtractSessionFilesMultipleTools(t *testing.T) {
	msgs := []Message{
		toolUseMessage(0, "Read", `{"file_path":"/project/a.go"}`),
		toolUseMessage(1, "Write", `{"file_path":"/project/b.go","content":"..."}`),
		toolUseMessage(2, "Edit", `{"file_path":"/project/c.go","old_string":"x","new_string":"y"}`),
	}
	files := ExtractSessionFiles(msgs, "/project")
	assert.ElementsMatch(t, []string{"a.go", "b.go", "c.go"}, files)
}

func TestExtractSessionFilesDeduplicates(t *testing.T) {
	msgs := []Message{
		toolUseMessage(0, "Read", `{"file_path":"/project/src/main.go"}`),
		toolUseMessage(1, "Edit", `{"file_path":"/project/src/main.go","old_string":"a","new_string":"b"}`),
	}
	files := ExtractSessionFiles(msgs, "/project")
	assert.Equal(t, []string{"src/main.go"}, files)
}

func TestExtractSessionFilesRelativePaths(t *testing.T) {
	msgs := []Message{
		toolUseMessage(0, "Read", `{"file_path":"./src/main.go"}`),
	}
	files := ExtractSessionFiles(msgs, "/project")
	assert.Equal(t, []string{"src/main.go"}, files)
}

func TestExtractSessionFilesOutsideWorkingDirectory(t *testing.T) {
	msgs := []Message{
		toolUseMessage(0, "Read", `{"file_path":"/etc/hosts"}`),
	}
	files := ExtractSessionFiles(msgs, "/project")
	assert.Equal(t, []string{"/etc/hosts"}, files)
}

func TestExtractSessionFilesBashCommand(t *testing.T) {
	msgs := []Message{
		toolUseMessage(0, "Bash", `{"command":"cat /project/README.md | head -5"}`),
	}
	files := ExtractSessionFiles(msgs, "/project")
	assert.Contains(t, files, "README.md")
}

func TestExtractSessionFilesSkipsEnvVars(t *testing.T) {
	msgs := []Message{
		toolUseMessage(0, "Bash", `{"command":"cat $HOME/notes.txt"}`),
		toolUseMessage(1, "Bash", `{"command":"rm /project/$TMP/file"}`),
	}
	files := ExtractSessionFiles(msgs, "/project")
	assert.Empty(t, files)
}

func TestExtractSessionFilesIgnoresTextContent(t *testing.T) {
	msgs := []Message{
		{
			ID:        DeriveUUID("msg_text"),
			SessionID: DeriveUUID("ses_files"),
			Role:      RoleUser,
			Content:   TextContent("please read /project/a.go"),
		},
	}
	files := ExtractSessionFiles(msgs, "/project")
	assert.Empty(t, files)
}

func TestExtractSessionFilesGlobAndGrep(t *testing.T) {
	msgs := []Message{
		toolUseMessage(0, "Glob", `{"pattern":"**/*.go","path":"/project/internal"}`),
		toolUseMessage(1, "Grep", `{"pattern":"TODO","path":"/project/cmd"}`),
	}
	files := ExtractSessionFiles(msgs, "/project")
	assert.ElementsMatch(t, []string{"internal", "cmd"}, files)
}
