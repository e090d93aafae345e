package leader

import (
	"context"
	"log/slog"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// KubeLeaseConfig locates the coordination Lease resource used for the
// election.
type KubeLeaseConfig struct {
	Namespace string
	Name      string
}

// KubeLease reads holdership from the platform's coordination store.
// Implements Lease for the gate's post-action checks.
type KubeLease struct {
	client kubernetes.Interface
	cfg    KubeLeaseConfig
}

// NewKubeLease wraps a client for lease status reads.
func NewKubeLease(client kubernetes.Interface, cfg KubeLeaseConfig) *KubeLease {
	return &KubeLease{client: client, cfg: cfg}
}

// Status implements Lease.
func (k *KubeLease) Status(ctx context.Context) (LeaseStatus, error) {
	lease, err := k.client.CoordinationV1().Leases(k.cfg.Namespace).Get(ctx, k.cfg.Name, metav1.GetOptions{})
	if err != nil {
		return LeaseStatus{}, err
	}
	holder := ""
	if lease.Spec.HolderIdentity != nil {
		holder = *lease.Spec.HolderIdentity
	}
	return LeaseStatus{Holder: holder, Epoch: lease.ResourceVersion}, nil
}

// RunElection drives the gate from the platform's leader election until
// ctx is cancelled. Acquisition and loss callbacks land on the gate;
// OnStartedLeading re-reads the lease to pick up the epoch for the
// fencing token.
//
// Blocking; run on its own goroutine. A lost election is never fatal: the
// elector keeps campaigning and the gate keeps refusing effects meanwhile.
func RunElection(ctx context.Context, client kubernetes.Interface, cfg KubeLeaseConfig, gate *Gate, log *slog.Logger) {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Namespace: cfg.Namespace,
			Name:      cfg.Name,
		},
		Client: client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: gate.Identity(),
		},
	}
	lease := NewKubeLease(client, cfg)

	leaderelection.RunOrDie(ctx, leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   gate.timings.LeaseDuration,
		RenewDeadline:   gate.timings.RenewDeadline,
		RetryPeriod:     gate.timings.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(leadCtx context.Context) {
				status, err := lease.Status(leadCtx)
				epoch := ""
				if err == nil {
					epoch = status.Epoch
				}
				gate.OnAcquired(epoch)
				log.Info("leadership acquired", "replica", gate.Identity(), "epoch", epoch)
				<-leadCtx.Done()
			},
			OnStoppedLeading: func() {
				gate.OnLost()
				log.Info("leadership lost, cooling down", "replica", gate.Identity())
			},
			OnNewLeader: func(identity string) {
				if identity != gate.Identity() {
					log.Debug("observed leader", "leader", identity)
				}
			},
		},
	})
}
