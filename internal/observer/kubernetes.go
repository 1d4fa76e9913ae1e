package observer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opsfleet-labs/vantage/internal/analyzer"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubernetesUtilizationProvider implements analyzer.UtilizationProvider
// from the cluster's own state: utilization is the sum of pod resource
// requests in a namespace, capacity the sum of node allocatable.
//
// Supported resource types are "cpu" (millicores) and "memory" (bytes);
// the resource id is the namespace.
type KubernetesUtilizationProvider struct {
	clientset *kubernetes.Clientset
	logger    *zap.Logger
}

func NewKubernetesUtilizationProvider(logger *zap.Logger) (*KubernetesUtilizationProvider, error) {
	clientset, err := createKubernetesClient()
	if err != nil {
		return nil, fmt.Errorf("could not create kubernetes client: %w", err)
	}

	return &KubernetesUtilizationProvider{
		clientset: clientset,
		logger:    logger,
	}, nil
}

func createKubernetesClient() (*kubernetes.Clientset, error) {
	config, err := rest.InClusterConfig()
	if err == nil {
		return kubernetes.NewForConfig(config)
	}

	kubeconfigPath := os.Getenv("KUBECONFIG")
	if kubeconfigPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("could not get home directory: %w", err)
		}
		kubeconfigPath = filepath.Join(home, ".kube", "config")
	}

	if _, err := os.Stat(kubeconfigPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("kubeconfig not found at %s", kubeconfigPath)
	}

	config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubeconfig: %w", err)
	}

	return kubernetes.NewForConfig(config)
}

// CurrentUtilization sums pod requests against node allocatable for the
// namespace named by resourceID.
func (k *KubernetesUtilizationProvider) CurrentUtilization(
	ctx context.Context,
	resourceType string,
	resourceID string,
) (*analyzer.Utilization, error) {
	if resourceType != "cpu" && resourceType != "memory" {
		return nil, fmt.Errorf("unsupported resource type %q", resourceType)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	pods, err := k.clientset.CoreV1().Pods(resourceID).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods in %s: %w", resourceID, err)
	}

	nodes, err := k.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	var requested float64
	sampleCount := 0
	for _, pod := range pods.Items {
		if pod.Status.Phase != corev1.PodRunning && pod.Status.Phase != corev1.PodPending {
			continue
		}
		sampleCount++
		for _, container := range pod.Spec.Containers {
			requested += quantityValue(container.Resources.Requests, resourceType)
		}
	}

	var allocatable float64
	for _, node := range nodes.Items {
		allocatable += quantityValue(node.Status.Allocatable, resourceType)
	}

	k.logger.Debug("Read cluster utilization",
		zap.String("resource_type", resourceType),
		zap.String("namespace", resourceID),
		zap.Float64("requested", requested),
		zap.Float64("allocatable", allocatable),
		zap.Int("pods", sampleCount))

	return &analyzer.Utilization{
		Capacity:    allocatable,
		Utilization: requested,
		SampleCount: sampleCount,
	}, nil
}

func quantityValue(list corev1.ResourceList, resourceType string) float64 {
	switch resourceType {
	case "cpu":
		if q, ok := list[corev1.ResourceCPU]; ok {
			return float64(q.MilliValue())
		}
	case "memory":
		if q, ok := list[corev1.ResourceMemory]; ok {
			return float64(q.Value())
		}
	}
	return 0
}
