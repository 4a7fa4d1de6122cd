package storage

import (
	"context"
	"fmt"

	"github.com/modelforge/internal/models"
)

const mnistClassifierCode = `import torch
import torch.nn as nn
import torch.nn.functional as F

class MNISTClassifier(nn.Module):
    def __init__(self):
        super(MNISTClassifier, self).__init__()
        self.conv1 = nn.Conv2d(1, 32, 3, 1)
        self.conv2 = nn.Conv2d(32, 64, 3, 1)
        self.dropout1 = nn.Dropout2d(0.25)
        self.dropout2 = nn.Dropout2d(0.5)
        self.fc1 = nn.Linear(9216, 128)
        self.fc2 = nn.Linear(128, 10)

    def forward(self, x):
        x = self.conv1(x)
        x = F.relu(x)
        x = self.conv2(x)
        x = F.relu(x)
        x = F.max_pool2d(x, 2)
        x = self.dropout1(x)
        x = torch.flatten(x, 1)
        x = self.fc1(x)
        x = F.relu(x)
        x = self.dropout2(x)
        x = self.fc2(x)
        output = F.log_softmax(x, dim=1)
        return output

def train(model, device, train_loader, optimizer, epoch):
    model.train()
    for batch_idx, (data, target) in enumerate(train_loader):
        data, target = data.to(device), target.to(device)
        optimizer.zero_grad()
        output = model(data)
        loss = F.nll_loss(output, target)
        loss.backward()
        optimizer.step()
        if batch_idx % 10 == 0:
            print('Train Epoch: {} [{}/{} ({:.0f}%)]\tLoss: {:.6f}'.format(
                epoch, batch_idx * len(data), len(train_loader.dataset),
                100. * batch_idx / len(train_loader), loss.item()))`

// InitialModel returns the demonstration model every fresh deployment starts with
func InitialModel() *models.Model {
	previous := "94.4%"
	return &models.Model{
		Name:             "MNIST Classifier",
		Description:      "A convolutional neural network for classifying handwritten digits.",
		Architecture:     "Convolutional Neural Network",
		Code:             mnistClassifierCode,
		CurrentAccuracy:  "96.8%",
		PreviousAccuracy: &previous,
		Parameters:       "1.28M",
	}
}

// SeedInitialModel creates the demonstration model when the store holds none.
// It returns the existing first model otherwise.
func SeedInitialModel(ctx context.Context, s Store) (*models.Model, error) {
	existing, err := s.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	m, err := s.CreateModel(ctx, InitialModel())
	if err != nil {
		return nil, fmt.Errorf("failed to seed model: %w", err)
	}
	return m, nil
}
