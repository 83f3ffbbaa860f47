package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"ragshell/backend/internal/bootstrap"
	"ragshell/backend/internal/commands"
	"ragshell/backend/internal/task"
)

type App struct {
	ctx context.Context

	host     *bootstrap.Host
	commands *commands.Dispatcher
	tasks    *task.Service
}

func NewApp(host *bootstrap.Host) *App {
	return &App{
		host:     host,
		commands: host.Commands,
		tasks:    host.Tasks,
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
}

func (a *App) shutdown(context.Context) {
	if a.host != nil {
		_ = a.host.Close()
	} else if a.tasks != nil {
		a.tasks.Close()
	}
}

func (a *App) UploadDocument(filePath string) (string, error) {
	return a.commands.UploadDocument(filePath)
}

func (a *App) GetDocuments() (string, error) {
	return a.commands.GetDocuments()
}

func (a *App) DeleteDocument(docID string) (string, error) {
	return a.commands.DeleteDocument(docID)
}

func (a *App) GetDocumentStats() (string, error) {
	return a.commands.GetDocumentStats()
}

func (a *App) AskQuestion(question string) (string, error) {
	return a.commands.AskQuestion(question)
}

func (a *App) GetChatHistory(limit *int) (string, error) {
	return a.commands.GetChatHistory(limit)
}

func (a *App) ClearChatHistory() (string, error) {
	return a.commands.ClearChatHistory()
}

func (a *App) GetAISettings() (string, error) {
	return a.commands.GetAISettings()
}

// SaveAISettings takes the settings object as JSON text.
func (a *App) SaveAISettings(settings string) (string, error) {
	return a.commands.Dispatch("save_ai_settings", map[string]any{"settings": settings})
}

func (a *App) CheckOllamaInstalled() (string, error) {
	return a.commands.CheckOllamaInstalled()
}

func (a *App) GetOllamaModels() (string, error) {
	return a.commands.GetOllamaModels()
}

func (a *App) InstallOllamaModel(modelName string) (string, error) {
	return a.commands.InstallOllamaModel(modelName)
}

func (a *App) GetVectorStats() (string, error) {
	return a.commands.GetVectorStats()
}

func (a *App) ResetVectorStore() (string, error) {
	return a.commands.ResetVectorStore()
}

func (a *App) GetLicenseInfo() commands.LicenseInfo {
	return commands.GetLicenseInfo()
}

func (a *App) RemoveLicense() error {
	return commands.RemoveLicense()
}

func (a *App) ListOperations() []commands.Operation {
	return commands.Operations()
}

// ReloadEngine is only wired when dev_reload is enabled.
func (a *App) ReloadEngine() (string, error) {
	return a.commands.Dispatch(commands.ReloadOperation, nil)
}

// SubmitTask queues a long operation (upload_document, install_ollama_model)
// and returns its initial snapshot.
func (a *App) SubmitTask(op string, args map[string]any) (task.Task, error) {
	if a.tasks == nil {
		return task.Task{}, fmt.Errorf("task service is not initialized")
	}
	op = strings.TrimSpace(op)
	if _, ok := commands.Lookup(op); !ok {
		return task.Task{}, fmt.Errorf("%w: %s", commands.ErrUnknownOperation, op)
	}

	taskID, err := a.tasks.Submit(op, args)
	if err != nil {
		return task.Task{}, err
	}

	snapshot, ok := a.tasks.GetTaskStatus(taskID)
	if !ok {
		return task.Task{}, fmt.Errorf("task not found after submit: %s", taskID)
	}
	return *snapshot, nil
}

func (a *App) GetTaskStatus(taskID string) (task.Task, error) {
	if a.tasks == nil {
		return task.Task{}, fmt.Errorf("task service is not initialized")
	}
	id := strings.TrimSpace(taskID)
	if id == "" {
		return task.Task{}, fmt.Errorf("task id is required")
	}

	snapshot, ok := a.tasks.GetTaskStatus(id)
	if !ok {
		return task.Task{}, fmt.Errorf("task not found: %s", id)
	}
	return *snapshot, nil
}

func (a *App) ListRecentTasks(limit int) ([]task.Task, error) {
	if a.tasks == nil {
		return nil, fmt.Errorf("task service is not initialized")
	}
	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return a.tasks.ListRecentTasks(ctx, limit)
}

func (a *App) SelectDocument() (string, error) {
	if a.ctx == nil {
		return "", fmt.Errorf("runtime is not initialized")
	}

	path, err := runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Select Document",
		Filters: []runtime.FileFilter{
			{
				DisplayName: "Documents",
				Pattern:     "*.txt;*.md;*.csv;*.json;*.html;*.htm;*.xml;*.log",
			},
		},
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}
